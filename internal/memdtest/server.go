// Package memdtest runs an in-memory data node speaking the memd protocol.
//
// It implements the subset of the protocol the client uses: HELLO,
// SELECT_BUCKET, GET_CLUSTER_CONFIG, GET, SET, ADD, REPLACE, DELETE and NOOP,
// with CAS semantics matching a real node. Requests are handled concurrently,
// so responses on one connection may come back out of order. Tests steer it with SetOwns (to
// answer NOT_MY_VBUCKET), SetClusterConfig and Intercept.
package memdtest

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pior/memdoc/memd"
)

type item struct {
	value    []byte
	flags    uint32
	datatype memd.Datatype
	cas      uint64
}

// InterceptFunc sees every request before the server handles it.
// Returning handled=false lets the server process the request normally.
// Returning handled=true with a nil response drops the request silently.
type InterceptFunc func(req *memd.Packet) (resp *memd.Packet, handled bool)

// Server is an in-memory data node.
type Server struct {
	listener net.Listener

	mu        sync.Mutex
	items     map[string]*item
	cas       uint64
	buckets   map[string]bool
	config    []byte
	owns      func(partition uint16) bool
	intercept InterceptFunc
	conns     map[net.Conn]struct{}
	closed    bool

	requests       atomic.Int64
	configRequests atomic.Int64

	wg sync.WaitGroup
}

// Start listens on addr ("127.0.0.1:0" for an ephemeral port) and serves
// until Close.
func Start(addr string) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: l,
		items:    make(map[string]*item),
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the listener and closes every client connection.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// DropConnections closes every client connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// SetBuckets restricts SELECT_BUCKET to the given names.
// With no buckets configured every name is accepted.
func (s *Server) SetBuckets(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[string]bool, len(names))
	for _, n := range names {
		s.buckets[n] = true
	}
}

// SetClusterConfig sets the payload returned by GET_CLUSTER_CONFIG.
// A nil config makes the server answer UNKNOWN_COMMAND.
func (s *Server) SetClusterConfig(config []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
}

// SetOwns decides which partitions this node serves. Key operations on
// other partitions are answered with NOT_MY_VBUCKET. nil serves everything.
func (s *Server) SetOwns(owns func(partition uint16) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owns = owns
}

// Intercept installs a hook run before every request.
func (s *Server) Intercept(fn InterceptFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = fn
}

// Requests returns the number of requests received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// ConfigRequests returns the number of GET_CLUSTER_CONFIG requests received.
func (s *Server) ConfigRequests() int64 {
	return s.configRequests.Load()
}

// CAS returns the stored version of key, or 0 if absent.
func (s *Server) CAS(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[key]; ok {
		return it.cas
	}
	return 0
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		c, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = c.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()

	var writeMu sync.Mutex
	hdr := make([]byte, memd.HeaderSize)
	for {
		if _, err := io.ReadFull(c, hdr); err != nil {
			return
		}
		bodyLen := binary.BigEndian.Uint32(hdr[8:12])
		frame := make([]byte, memd.HeaderSize+int(bodyLen))
		copy(frame, hdr)
		if _, err := io.ReadFull(c, frame[memd.HeaderSize:]); err != nil {
			return
		}

		req, _, err := memd.Decode(frame, 0)
		if err != nil {
			return
		}
		s.requests.Add(1)

		// An intercept may hold a request; the ones behind it still get
		// answered, possibly out of order.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			resp := s.handle(req)
			if resp == nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := memd.WritePacket(c, resp); err != nil {
				_ = c.Close()
			}
		}()
	}
}

func (s *Server) handle(req *memd.Packet) *memd.Packet {
	s.mu.Lock()
	intercept := s.intercept
	s.mu.Unlock()

	if intercept != nil {
		if resp, handled := intercept(req); handled {
			if resp != nil {
				resp.Magic = memd.MagicRes
				resp.OpCode = req.OpCode
				resp.Opaque = req.Opaque
			}
			return resp
		}
	}

	resp := &memd.Packet{
		Magic:  memd.MagicRes,
		OpCode: req.OpCode,
		Opaque: req.Opaque,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.OpCode {
	case memd.OpHello, memd.OpNoOp:
		return resp

	case memd.OpSelectBucket:
		if len(s.buckets) > 0 && !s.buckets[string(req.Key)] {
			resp.Status = memd.StatusNoBucket
		}
		return resp

	case memd.OpGetClusterConfig:
		s.configRequests.Add(1)
		if s.config == nil {
			resp.Status = memd.StatusUnknownCommand
			return resp
		}
		resp.Datatype = memd.DatatypeJSON
		resp.Value = append([]byte(nil), s.config...)
		return resp
	}

	if s.owns != nil && !s.owns(req.Partition) {
		resp.Status = memd.StatusNotMyVbucket
		return resp
	}

	key := string(req.Key)
	existing := s.items[key]

	switch req.OpCode {
	case memd.OpGet:
		if existing == nil {
			resp.Status = memd.StatusKeyNotFound
			return resp
		}
		resp.Extras = binary.BigEndian.AppendUint32(nil, existing.flags)
		resp.Datatype = existing.datatype
		resp.CAS = existing.cas
		resp.Value = append([]byte(nil), existing.value...)

	case memd.OpSet, memd.OpAdd, memd.OpReplace:
		if len(req.Extras) != 8 {
			resp.Status = memd.StatusInvalidArgs
			return resp
		}
		switch {
		case req.OpCode == memd.OpAdd && existing != nil:
			resp.Status = memd.StatusKeyExists
			return resp
		case req.OpCode == memd.OpReplace && existing == nil:
			resp.Status = memd.StatusKeyNotFound
			return resp
		case req.CAS != 0 && existing == nil:
			resp.Status = memd.StatusKeyNotFound
			return resp
		case req.CAS != 0 && existing.cas != req.CAS:
			resp.Status = memd.StatusKeyExists
			return resp
		}
		s.cas++
		s.items[key] = &item{
			value:    append([]byte(nil), req.Value...),
			flags:    binary.BigEndian.Uint32(req.Extras[0:4]),
			datatype: req.Datatype,
			cas:      s.cas,
		}
		resp.CAS = s.cas

	case memd.OpDelete:
		switch {
		case existing == nil:
			resp.Status = memd.StatusKeyNotFound
			return resp
		case req.CAS != 0 && existing.cas != req.CAS:
			resp.Status = memd.StatusKeyExists
			return resp
		}
		delete(s.items, key)
		s.cas++
		resp.CAS = s.cas

	default:
		resp.Status = memd.StatusUnknownCommand
	}

	return resp
}

// ClusterConfig is the JSON document served by GET_CLUSTER_CONFIG.
type ClusterConfig struct {
	Rev        int64    `json:"rev"`
	Nodes      []string `json:"nodes"`
	Partitions []int    `json:"partitions"`
}

// EncodeClusterConfig builds a config mapping every one of numPartitions
// partitions to owner(partition), an index into nodes.
func EncodeClusterConfig(rev int64, nodes []string, numPartitions int, owner func(partition int) int) []byte {
	cfg := ClusterConfig{
		Rev:        rev,
		Nodes:      nodes,
		Partitions: make([]int, numPartitions),
	}
	for i := range cfg.Partitions {
		cfg.Partitions[i] = owner(i)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		panic(errors.Join(errors.New("memdtest: encode cluster config"), err))
	}
	return data
}
