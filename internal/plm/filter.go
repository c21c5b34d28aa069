package plm

import (
	"regexp"

	"github.com/gpufleet/gpuctl/internal/val"
)

// FilterByName keeps records whose ProcName matches the compiled regular
// expression pattern. An invalid pattern fails loudly.
func FilterByName(procs []val.ProcessRecord, pattern string) ([]val.ProcessRecord, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var out []val.ProcessRecord
	for _, p := range procs {
		if re.MatchString(p.ProcName) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FilterByUser keeps records whose User matches the compiled regular
// expression pattern.
func FilterByUser(procs []val.ProcessRecord, pattern string) ([]val.ProcessRecord, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var out []val.ProcessRecord
	for _, p := range procs {
		if re.MatchString(p.User) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FilterByMemory keeps records using at least minMB of GPU memory.
func FilterByMemory(procs []val.ProcessRecord, minMB uint32) []val.ProcessRecord {
	var out []val.ProcessRecord
	for _, p := range procs {
		if p.UsedMemMB >= minMB {
			out = append(out, p)
		}
	}
	return out
}
