// Package workbook renders tables as xlsx workbooks and bundles workbooks
// into zip archives.
//
// Encoding uses github.com/xuri/excelize/v2; every workbook has one sheet
// named [SheetName] whose first row holds the column names. Archives use the
// deflate-based zip container from github.com/klauspost/compress/zip.
//
// [Decode] reads a workbook produced here back into a table, which is how
// exported files are verified.
package workbook
