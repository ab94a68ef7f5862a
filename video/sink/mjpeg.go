// Package sink publishes annotated frames to live viewers.
package sink

import (
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// MJPEG multi-streaming, based on implementation by saljam:
// https://github.com/saljam/mjpeg/blob/master/stream.go

const boundaryWord = "MJPEGBOUNDARY"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"X-Frame: %d\r\n" +
	"\r\n"

// MJPEGServer serves named streams of JPEG frames as multipart responses.
type MJPEGServer struct {
	m map[string]*MJPEGStream

	lock sync.Mutex
}

func NewMJPEGServer() *MJPEGServer {
	return &MJPEGServer{
		m: make(map[string]*MJPEGStream),
	}
}

// NewStream registers a stream. Names must be unique.
func (s *MJPEGServer) NewStream(name string) (*MJPEGStream, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.m[name]; ok {
		return nil, fmt.Errorf("a stream named %q already exists", name)
	}

	ms := &MJPEGStream{
		name:   name,
		m:      make(map[chan []byte]bool),
		parent: s,
	}
	s.m[name] = ms
	return ms, nil
}

func (s *MJPEGServer) getStream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.m[name]
}

// ServeHTTP implements http.Handler interface, serving MJPEG.
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.Form.Get("name")
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	stream := s.getStream(name)
	if stream == nil {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	clog := log.WithField("addr", r.RemoteAddr)
	clog.Infof("MJPEG stream connected to %v", name)
	w.Header().Add("Content-Type", "multipart/x-mixed-replace;boundary="+boundaryWord)

	c := make(chan []byte, 1)
	stream.lock.Lock()
	stream.m[c] = true
	stream.lock.Unlock()

loop:
	for {
		select {
		case <-r.Context().Done():
			break loop
		case b := <-c:
			if _, err := w.Write(b); err != nil {
				break loop
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}

	stream.lock.Lock()
	delete(stream.m, c)
	stream.lock.Unlock()
	clog.Infof("MJPEG stream disconnected from %v", name)
}

// MJPEGStream fans one sequence of frames out to every connected viewer.
type MJPEGStream struct {
	name  string
	m     map[chan []byte]bool
	count int

	parent *MJPEGServer
	lock   sync.Mutex
}

// Listeners returns the number of connected viewers.
func (s *MJPEGStream) Listeners() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.m)
}

// Put encodes input as JPEG and offers it to every viewer. Viewers still busy
// with the previous frame miss this one.
func (s *MJPEGStream) Put(input gocv.Mat) {
	if s.Listeners() == 0 {
		// Nobody is listening; don't bother encoding.
		return
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, input)
	if err != nil {
		log.Errorf("Error encoding to JPG for MJPEG stream %v: %v", s.name, err)
		return
	}
	defer buf.Close()
	jpeg := buf.GetBytes()

	s.lock.Lock()
	defer s.lock.Unlock()
	s.count++
	header := fmt.Sprintf(headerf, len(jpeg), s.count)
	frame := make([]byte, len(header)+len(jpeg))
	copy(frame, header)
	copy(frame[len(header):], jpeg)

	for c := range s.m {
		select {
		case c <- frame:
		default:
			// Skip listeners not ready for next frame.
		}
	}
}

func (s *MJPEGStream) Close() {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()
	delete(s.parent.m, s.name)
}
