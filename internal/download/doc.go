// Package download drives paged exports through their lifecycle.
//
// An export is one operation in a segment store:
//
//	id, _ := o.Begin(ctx)
//	for page := 1; ; page++ {
//	    more, _, err := o.Continue(ctx, id, page)
//	    if err != nil || !more {
//	        break
//	    }
//	}
//	res, _ := o.Complete(ctx, id)
//	_ = o.Cleanup(ctx, id)
//
// Each Continue stores one non-empty page as a segment. Complete assembles
// the segments into a single workbook, or into a zip archive of workbooks
// once the segment count reaches the downloader's threshold. The output is
// built entirely in memory and returned only on success.
package download
