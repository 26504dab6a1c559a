// Package chunk splits topic/payload records into fixed-length transfer chunks
// and reassembles them from a zero terminated byte stream.
//
// A record travels on the wire as topic + ',' + payload + '\0'.
// Chunks carry no header: the zero byte is the only record boundary,
// so a payload with an embedded zero byte is cut short at the receiver.
package chunk

import "bytes"

const (
	// Delimiter separates the topic from the payload.
	Delimiter byte = ','
	// Sentinel marks the end of a record.
	Sentinel byte = 0
)

// Encode returns the wire frame of the record.
func Encode(topic string, payload []byte) []byte {
	return AppendEncode(make([]byte, 0, len(topic)+len(payload)+2), topic, payload)
}

// AppendEncode appends the wire frame of the record to dst.
func AppendEncode(dst []byte, topic string, payload []byte) []byte {
	dst = append(dst, topic...)
	dst = append(dst, Delimiter)
	dst = append(dst, payload...)
	return append(dst, Sentinel)
}

// Count returns the number of chunks of the given length
// needed to carry a frame of frameLen bytes.
func Count(frameLen, length int) int {
	if frameLen <= 0 || length <= 0 {
		return 0
	}
	return (frameLen + length - 1) / length
}

// Split splits a reassembled record at the first delimiter.
// A record without delimiter is all topic.
func Split(record []byte) (string, []byte) {
	topic, payload, found := bytes.Cut(record, []byte{Delimiter})
	if !found {
		return string(record), nil
	}
	return string(topic), payload
}
