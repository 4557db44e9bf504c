// Package trollsift implements the filename template engine used to parse
// fragment metadata out of raw filenames and to regenerate wildcarded
// filename patterns from metadata records.
//
// A template is a string with embedded {field} or {field:spec} markers, for
// example:
//
//	H-000-{orig_platform_name:4s}__-{platform_shortname:_<12s}-{channel_name:_<9s}-{segment:_<9s}-{start_time:%Y%m%d%H%M}-__
//
// Supported format specs:
//
//   - strings: "s", "Ns" (fixed width), "F<Ns"/"F>Ns"/"F^Ns" (fill F,
//     alignment, fixed width)
//   - integers: "d", "Nd", "0Nd" (zero padded fixed width)
//   - timestamps: any mix of literals and the strftime directives
//     %Y %y %m %d %j %H %M %S %f
//
// Parse recovers typed field values from a matching filename; Format renders
// a filename from a complete record; Globify renders a pattern substituting
// known fields and a "*" wildcard for anything unset, which is how two raw
// filenames differing only in unpredictable fields (such as processing
// timestamps) collapse to one tracked identity.
package trollsift
