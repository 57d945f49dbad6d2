package download

// ShouldZip reports whether segmentCount segments are returned as a zip.
func ShouldZip(segmentCount, minZipSegments int, forceZip bool) bool {
	return forceZip || segmentCount >= minZipSegments
}

// EntryCount is the number of zip entries for segmentCount segments bundled
// perEntry at a time. A zip always has at least one entry, so zero segments
// give a single empty workbook.
func EntryCount(segmentCount, perEntry int) int {
	if perEntry < 1 {
		perEntry = 1
	}
	if segmentCount <= 0 {
		return 1
	}
	return (segmentCount + perEntry - 1) / perEntry
}

// Window is the segment range [Skip, Skip+Take) for one zip entry.
type Window struct {
	Index int
	Skip  int
	Take  int
}

// Windows lists the entry windows in index order. The last window may
// cover fewer than perEntry segments.
func Windows(segmentCount, perEntry int) []Window {
	if perEntry < 1 {
		perEntry = 1
	}
	n := EntryCount(segmentCount, perEntry)
	out := make([]Window, n)
	for i := range out {
		skip := i * perEntry
		out[i] = Window{Index: i, Skip: skip, Take: max(0, min(perEntry, segmentCount-skip))}
	}
	return out
}
