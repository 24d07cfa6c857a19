package callgraph

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"
)

// ParseProfile reads a pprof profile in any encoding profile.Parse accepts.
func ParseProfile(r io.Reader) (*profile.Profile, error) {
	p, err := profile.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return p, nil
}

// SampleIndexByName returns the index of the sample type called name. An
// empty name selects the profile's default sample type, or the first one if
// no default is set.
func SampleIndexByName(p *profile.Profile, name string) (int, error) {
	if name == "" {
		name = p.DefaultSampleType
	}
	if name == "" {
		return 0, nil
	}
	for i, st := range p.SampleType {
		if st.Type == name {
			return i, nil
		}
	}
	types := make([]string, 0, len(p.SampleType))
	for _, st := range p.SampleType {
		types = append(types, st.Type)
	}
	return 0, fmt.Errorf("sample type %q not found, have %v", name, types)
}

// FromProfile converts a pprof profile into a Snapshot. Only the first line
// of each location and Value[sampleIndex] of each sample are used.
func FromProfile(p *profile.Profile, sampleIndex int) (Snapshot, error) {
	if sampleIndex < 0 {
		return Snapshot{}, fmt.Errorf("sample index %d out of range", sampleIndex)
	}

	snap := Snapshot{
		Functions: make([]FunctionDescriptor, 0, len(p.Function)),
		Samples:   make([]Sample, 0, len(p.Sample)),
	}
	for _, fn := range p.Function {
		snap.Functions = append(snap.Functions, FunctionDescriptor{
			ID:   fn.ID,
			Name: fn.Name,
		})
	}

	for i, s := range p.Sample {
		if sampleIndex >= len(s.Value) {
			return Snapshot{}, fmt.Errorf("sample %d has %d values, want index %d", i, len(s.Value), sampleIndex)
		}
		stack := make([]Location, 0, len(s.Location))
		for _, loc := range s.Location {
			if loc == nil || len(loc.Line) == 0 || loc.Line[0].Function == nil {
				// Unsymbolized frames cannot be resolved to a function.
				return Snapshot{}, &UnknownFunctionError{ID: 0}
			}
			stack = append(stack, Location{FunctionID: loc.Line[0].Function.ID})
		}
		snap.Samples = append(snap.Samples, Sample{
			Value: s.Value[sampleIndex],
			Stack: stack,
		})
	}
	return snap, nil
}

// BuildFromProfile converts p and builds its call graph.
func BuildFromProfile(p *profile.Profile, sampleIndex int, opts ...Option) (*CallGraph, error) {
	snap, err := FromProfile(p, sampleIndex)
	if err != nil {
		return nil, err
	}
	return snap.Build(opts...)
}
