// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package profile

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// InstrumentedStore wraps a Store and records load/save/merge outcomes as
// Prometheus metrics, without altering Store semantics.
type InstrumentedStore struct {
	*Store

	loads  *prometheus.CounterVec
	saves  *prometheus.CounterVec
	merges prometheus.Histogram
	gauge  prometheus.Gauge
}

// NewInstrumentedStore wraps store with metrics registered against reg.
func NewInstrumentedStore(reg prometheus.Registerer, store *Store) *InstrumentedStore {
	is := &InstrumentedStore{
		Store: store,
		loads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "art_profile_loads_total",
			Help: "Total number of profile load/merge-from-reader attempts, by result.",
		}, []string{"result"}),
		saves: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "art_profile_saves_total",
			Help: "Total number of profile save attempts, by result.",
		}, []string{"result"}),
		merges: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "art_profile_merge_duration_seconds",
			Help:    "Duration of Store.MergeWith calls.",
			Buckets: prometheus.DefBuckets,
		}),
		gauge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "art_profile_modules",
			Help: "Number of modules currently tracked by the store.",
		}),
	}
	is.gauge.Set(float64(len(store.Modules())))
	return is
}

// Load instruments Store.Load.
func (is *InstrumentedStore) Load(r io.Reader) error {
	err := is.Store.Load(r)
	is.loads.WithLabelValues(StatusOf(err).String()).Inc()
	is.gauge.Set(float64(len(is.Store.Modules())))
	return err
}

// MergeFromReader instruments Store.MergeFromReader.
func (is *InstrumentedStore) MergeFromReader(r io.Reader, mergeClasses bool, filter ModuleFilter) error {
	err := is.Store.MergeFromReader(r, mergeClasses, filter)
	is.loads.WithLabelValues(StatusOf(err).String()).Inc()
	is.gauge.Set(float64(len(is.Store.Modules())))
	return err
}

// MergeWith instruments Store.MergeWith, recording its wall-clock duration.
func (is *InstrumentedStore) MergeWith(src *Store, mergeClasses bool) error {
	start := time.Now()
	err := is.Store.MergeWith(src, mergeClasses)
	is.merges.Observe(time.Since(start).Seconds())
	is.gauge.Set(float64(len(is.Store.Modules())))
	return err
}

// Save instruments Store.Save.
func (is *InstrumentedStore) Save(path string) error {
	err := is.Store.Save(path)
	result := "success"
	if err != nil {
		result = "error"
	}
	is.saves.WithLabelValues(result).Inc()
	return err
}
