// Package dataset reads and writes Board768 training data files.
//
// File structure:
//
//	Header (32 bytes, little endian):
//	  - Magic (4): "DTFB"
//	  - Version (2): 1
//	  - FeatureSet (2): feature-set tag, 0 = Board768
//	  - RecordSize (4): must equal record.Size
//	  - Flags (4): reserved
//	  - RecordCount (8): number of records in the body
//	  - Reserved (8)
//	Body:
//	  - RecordCount fixed-size records, record i at HeaderSize + i*record.Size
//
// Files are immutable once the writer is closed. Open handles are safe for
// concurrent random access; reads go through pread or a read-only mapping.
// Several files can be addressed as one record space through a View.
package dataset
