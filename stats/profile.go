package stats

import (
	"io"
	"reflect"
	"time"

	"github.com/google/pprof/profile"
)

// WriteProfile dumps every Counter_t/Cycles_t field of st as a pprof
// sample, one sample value per counter, so the same scheduler/syscall
// accounting Stats2String prints as text can also be loaded into
// `go tool pprof` for offline inspection (SPEC_FULL.md §A test tooling).
func WriteProfile(w io.Writer, st interface{}) error {
	v := reflect.ValueOf(st)
	t := v.Type()

	var names []string
	var values []int64
	for i := 0; i < v.NumField(); i++ {
		ft := t.Field(i).Type.String()
		switch {
		case len(ft) >= len("Counter_t") && ft[len(ft)-len("Counter_t"):] == "Counter_t":
			names = append(names, t.Field(i).Name)
			values = append(values, int64(v.Field(i).Interface().(Counter_t)))
		case len(ft) >= len("Cycles_t") && ft[len(ft)-len("Cycles_t"):] == "Cycles_t":
			names = append(names, t.Field(i).Name)
			values = append(values, int64(v.Field(i).Interface().(Cycles_t)))
		}
	}

	sampleTypes := make([]*profile.ValueType, len(names))
	for i, n := range names {
		sampleTypes[i] = &profile.ValueType{Type: n, Unit: "count"}
	}
	sample := &profile.Sample{
		Value: values,
		Location: []*profile.Location{
			{ID: 1, Line: []profile.Line{{Function: &profile.Function{ID: 1, Name: "kernel"}}}},
		},
	}
	p := &profile.Profile{
		SampleType:    sampleTypes,
		Sample:        []*profile.Sample{sample},
		Function:      []*profile.Function{{ID: 1, Name: "kernel"}},
		Location:      sample.Location,
		TimeNanos:     time.Now().UnixNano(),
		DurationNanos: 0,
	}
	return p.Write(w)
}
