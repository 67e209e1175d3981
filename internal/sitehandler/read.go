package sitehandler

import "io"

// readLimited reads at most limit bytes. complete is false when the body is
// longer than limit, in which case the returned prefix must be sent ahead
// of the unread remainder.
func readLimited(body io.Reader, limit int64) (data []byte, complete bool, err error) {
	data, err = io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data, false, nil
	}
	return data, true, nil
}
