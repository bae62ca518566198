// Package series converts a folder of DICOM files into normalized 8-bit PNG
// slices with per-slice and per-series JSON metadata.
//
// A conversion run discovers files by extension, decodes each through a
// Decoder, normalizes its pixels, and writes the artifacts into a hidden
// output folder inside the input folder:
//
//	<folder>/.medcompanion-temp/slice-0000.png
//	<folder>/.medcompanion-temp/slice-0000.json
//	<folder>/.medcompanion-temp/series-info.json
//
// Items that fail to decode or write are recorded in the run report and
// skipped. A run fails only when the folder is missing, holds no DICOM
// files, or no item converts.
package series
