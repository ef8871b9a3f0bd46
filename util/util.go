package util

import (
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var faultIdRange = regexp.MustCompile(`^(\d+)-(\d+)$`)

// ParseFaultIds parses a fault id selection: a comma separated list of
// ids and inclusive id ranges ("3,7,10-14"). The result is deduplicated
// and sorted.
func ParseFaultIds(spec string) ([]uint64, error) {
	seen := make(map[uint64]bool)
	for _, s := range strings.Split(spec, ",") {
		if m := faultIdRange.FindStringSubmatch(s); m != nil {
			v1, err1 := strconv.ParseUint(m[1], 10, 64)
			v2, err2 := strconv.ParseUint(m[2], 10, 64)
			if err1 != nil || err2 != nil {
				return nil, errors.Errorf("unrecognized fault ids specification: '%s'", s)
			}
			lb, ub := v1, v2
			if lb > ub {
				lb, ub = ub, lb
			}
			for id := lb; id <= ub; id++ {
				seen[id] = true
			}
		} else if id, err := strconv.ParseUint(s, 10, 64); err == nil {
			seen[id] = true
		} else {
			return nil, errors.Errorf("unrecognized fault ids specification: '%s'", s)
		}
	}
	ids := make([]uint64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// FormatFaultIds renders ids as the comma list ParseFaultIds accepts.
func FormatFaultIds(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

func FileExists(filepath string) bool {
	fileinfo, err := os.Stat(filepath)

	if os.IsNotExist(err) {
		return false
	}
	// Return false if the fileinfo says the file path is a directory.
	return fileinfo != nil && !fileinfo.IsDir()
}
