// Package msgqueue implements the host-facing command queues of the
// management controller. Each logical channel carries fixed-width request and
// response records between a transport (SMBus or PCIe, external to this
// package) and the command dispatcher.
package msgqueue

// NumChannels is the number of independent request/response channel pairs.
const NumChannels = 4

// QueueCapacity is the number of entries each ring can hold.
const QueueCapacity = 4

// pointerWrap is the modulus for the ring read/write pointers. Wrapping at
// twice the capacity disambiguates a full ring from an empty one without a
// separate counter.
const pointerWrap = 2 * QueueCapacity

// RequestLen is the number of 32-bit words in a request record.
const RequestLen = 8

// ResponseLen is the number of 32-bit words in a response record.
const ResponseLen = 8

// A Request is one host command record. The low byte of Data[0] is the
// command code; the remaining bytes are command-specific fields.
type Request struct {
	Data [RequestLen]uint32
}

// Code returns the command code of the request.
func (r *Request) Code() uint8 {
	return uint8(r.Data[0])
}

// A Response is the reply record for one request. Data[0] carries the status
// code; the remaining words are command-specific output.
type Response struct {
	Data [ResponseLen]uint32
}
