package dataset

import "io"

// Validate opens path and decodes every record. It returns the header on
// success and the first layout or record error otherwise.
func Validate(path string) (Header, error) {
	f, err := Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	it := f.Iterator()
	for {
		_, err := it.Next()
		if err == io.EOF {
			return f.Header(), nil
		}
		if err != nil {
			return f.Header(), err
		}
	}
}
