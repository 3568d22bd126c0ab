package chain

import (
	"errors"
	"sync"
)

// ErrLogMismatch is returned by a Decoder that does not recognize a log.
var ErrLogMismatch = errors.New("chain: log does not match decoder")

// Decoder turns a raw receipt log into a decoded Event. A decoder that does
// not recognize the log returns ErrLogMismatch so the registry can try the
// next candidate.
type Decoder func(log Log) (*Event, error)

// Registry maps contract addresses to candidate log decoders. Decoding is
// total: a log either yields exactly one decoded event or is reported as
// skipped, never an error through the caller.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Address][]Decoder
}

// NewRegistry creates an empty decoder registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Address][]Decoder)}
}

// Register adds a candidate decoder for logs emitted by addr.
func (r *Registry) Register(addr Address, dec Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Normalize(string(addr))
	r.decoders[key] = append(r.decoders[key], dec)
}

// Decode tries every decoder registered for the log's address and returns
// the first success. ok is false when no decoder matched; decoder panics
// are swallowed so a malformed log can never abort receipt processing.
func (r *Registry) Decode(log Log) (ev *Event, ok bool) {
	r.mu.RLock()
	candidates := r.decoders[Normalize(string(log.Address))]
	r.mu.RUnlock()

	for _, dec := range candidates {
		if e := tryDecode(dec, log); e != nil {
			return e, true
		}
	}
	return nil, false
}

func tryDecode(dec Decoder, log Log) *Event {
	defer func() { _ = recover() }()
	e, err := dec(log)
	if err != nil {
		return nil
	}
	return e
}

// NamedEventDecoder builds a Decoder for filter backends that deliver the
// event name in Topics[0] and the arguments as alternating key/value pairs
// in the remaining topics. chaintest emits logs in this shape; ABI-bound
// wallet integrations register their own decoders instead.
func NamedEventDecoder(name string) Decoder {
	return func(log Log) (*Event, error) {
		if len(log.Topics) == 0 || log.Topics[0] != name {
			return nil, ErrLogMismatch
		}
		args := make(Args, (len(log.Topics)-1)/2)
		for i := 1; i+1 < len(log.Topics); i += 2 {
			args[log.Topics[i]] = log.Topics[i+1]
		}
		return &Event{Name: name, Address: log.Address, Args: args}, nil
	}
}
