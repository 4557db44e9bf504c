package segments

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adybbroe/pytroll-collectors/config"
	"github.com/adybbroe/pytroll-collectors/errors"
	"github.com/adybbroe/pytroll-collectors/trollsift"
)

// expandFragmentSpec turns a compact specification string like
// ":PRO,:EPI" or "VIS006:8,VIS008:1-8" into the set of wildcarded
// fragment identities a slot must track for one source.
//
// Each comma-separated item is "<channel>:<segment-spec>" where the
// segment spec is empty, a single token, or a numeric range "low-high".
// A leading zero on low selects zero-padded decimal formatting of low's
// width. Channel and segment are substituted into a copy of the slot
// metadata (with the source's variable tags stripped so they always
// render as wildcards) and the pattern is globified.
func expandFragmentSpec(parser *trollsift.Parser, metadata map[string]any, spec string, variableTags []string) (stringSet, error) {
	meta := copyWithoutKeys(metadata, variableTags)

	result := newStringSet()
	for _, item := range strings.Split(spec, ",") {
		channel, segSpec, found := strings.Cut(item, ":")
		if !found {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "segments", "expandFragmentSpec",
				fmt.Sprintf("malformed item %q in spec %q", item, spec))
		}

		segs, err := expandSegmentRange(segSpec)
		if err != nil {
			return nil, err
		}

		fields := make(trollsift.Fields, len(meta)+2)
		for k, v := range meta {
			fields[k] = v
		}
		fields["channel_name"] = channel
		for _, seg := range segs {
			fields["segment"] = seg
			result.add(parser.Globify(fields))
		}
	}

	return result, nil
}

// expandSegmentRange resolves a segment spec to concrete segment
// strings. "1-8" yields "1".."8"; "01-03" yields "01","02","03".
func expandSegmentRange(spec string) ([]string, error) {
	parts := strings.Split(spec, "-")
	if len(parts) < 2 {
		return []string{spec}, nil
	}

	low, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, errors.WrapInvalid(err, "segments", "expandSegmentRange",
			fmt.Sprintf("bad range start in %q", spec))
	}
	high, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return nil, errors.WrapInvalid(err, "segments", "expandSegmentRange",
			fmt.Sprintf("bad range end in %q", spec))
	}

	if high < low {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "segments", "expandSegmentRange",
			fmt.Sprintf("reversed range %q", spec))
	}

	format := "%d"
	if len(parts[0]) > 1 && parts[0][0] == '0' {
		format = "%0" + strconv.Itoa(len(parts[0])) + "d"
	}

	segs := make([]string, 0, high-low+1)
	for i := low; i <= high; i++ {
		segs = append(segs, fmt.Sprintf(format, i))
	}
	return segs, nil
}

// validateFragmentSpecs expands every fragment spec of one source
// against empty metadata, catching malformed items before any event
// reaches the pattern. Empty metadata is enough: expansion only errors
// on the spec itself, never on missing fields.
func validateFragmentSpecs(parser *trollsift.Parser, pattern config.PatternConfig) error {
	for _, spec := range []string{pattern.CriticalFiles, pattern.WantedFiles, pattern.AllFiles} {
		if spec == "" {
			continue
		}
		if _, err := expandFragmentSpec(parser, map[string]any{}, spec, pattern.VariableTags); err != nil {
			return err
		}
	}
	return nil
}

// copyWithoutKeys returns a copy of m with the listed keys removed.
func copyWithoutKeys(m map[string]any, ignored []string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		skip := false
		for _, ig := range ignored {
			if k == ig {
				skip = true
				break
			}
		}
		if !skip {
			out[k] = v
		}
	}
	return out
}
