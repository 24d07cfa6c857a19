package profiling

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// Converter builds a pprof profile from folded stacks, the collapsed format
// emitted by flamegraph tooling:
//
//	main;foo;bar 10
//
// Frames are listed root first, the trailing integer is the sample weight.
type Converter struct {
	fid       uint64
	functions map[string]*profile.Function
	locations map[string]*profile.Location

	protobuf *profile.Profile
}

func New() *Converter {
	return &Converter{
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
		protobuf: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "samples", Unit: "count"},
			},
			DefaultSampleType: "samples",
			Sample:            []*profile.Sample{},
			Mapping:           []*profile.Mapping{},
			Location:          []*profile.Location{},
			Function:          []*profile.Function{},
			Comments:          []string{},
			TimeNanos:         time.Now().UnixNano(),
		},
	}
}

// ConvertFolded reads folded stacks line by line. Blank lines and lines
// starting with '#' are skipped.
func (c *Converter) ConvertFolded(r io.Reader) (*profile.Profile, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		err := c.AddFolded(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read folded stacks: %w", err)
	}
	return c.protobuf, nil
}

// AddFolded appends a single folded stack as a sample.
func (c *Converter) AddFolded(line string) error {
	idx := strings.LastIndexByte(line, ' ')
	if idx <= 0 {
		return fmt.Errorf("missing weight in %q", line)
	}
	weight, err := strconv.ParseInt(strings.TrimSpace(line[idx+1:]), 10, 64)
	if err != nil {
		return fmt.Errorf("parse weight: %w", err)
	}

	frames := strings.Split(strings.TrimSpace(line[:idx]), ";")
	sample := &profile.Sample{
		Location: make([]*profile.Location, 0, len(frames)),
		Value:    []int64{weight},
	}
	// Folded stacks are root first, location[0] must be the leaf.
	for _, frame := range frames {
		if frame == "" {
			return fmt.Errorf("empty frame in %q", line)
		}
		_, loc := c.function(frame)
		sample.Location = prepend(loc, sample.Location)
	}
	c.protobuf.Sample = append(c.protobuf.Sample, sample)
	return nil
}

func (c *Converter) Profile() *profile.Profile {
	return c.protobuf
}

// Encode writes the profile as gzipped protobuf.
func (c *Converter) Encode() ([]byte, error) {
	var buf bytes.Buffer
	err := c.protobuf.Write(&buf)
	return buf.Bytes(), err
}

func (c *Converter) function(name string) (*profile.Function, *profile.Location) {
	if fn, found := c.functions[name]; found {
		return fn, c.locations[name]
	}

	c.fid++
	fn := &profile.Function{
		ID:         c.fid,
		Name:       name,
		SystemName: name,
	}

	c.functions[name] = fn
	c.protobuf.Function = append(c.protobuf.Function, fn)

	loc := &profile.Location{
		ID: c.fid,
		Line: []profile.Line{
			{
				Function: fn,
			},
		},
	}
	c.locations[name] = loc
	c.protobuf.Location = append(c.protobuf.Location, loc)
	return fn, loc
}

func prepend[T any](x T, s []T) []T {
	return append([]T{x}, s...)
}
