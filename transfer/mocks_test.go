package transfer

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/opd-ai/toxfile/crypto"
	"github.com/opd-ai/toxfile/transport"
	"github.com/spf13/afero"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var errMockTransport = errors.New("mock transport failure")

type sentChunk struct {
	friendID   uint32
	fileNumber uint32
	position   uint64
	data       []byte
}

type sentControl struct {
	friendID   uint32
	fileNumber uint32
	control    transport.FileControl
}

type announcement struct {
	friendID uint32
	kind     transport.FileKind
	size     uint64
	fileID   crypto.ContentID
	name     string
}

// mockTransport records every call and fails the ones selected by its
// fail* fields.
type mockTransport struct {
	mu sync.Mutex

	nextNumber uint32
	fileIDs    map[uint32]crypto.ContentID

	announced []announcement
	chunks    []sentChunk
	controls  []sentControl

	failSend    bool
	failChunk   bool
	failControl bool
	failFileID  bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{fileIDs: make(map[uint32]crypto.ContentID)}
}

func (m *mockTransport) FileSend(friendID uint32, kind transport.FileKind, fileSize uint64, fileID crypto.ContentID, fileName string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		return 0, errMockTransport
	}
	n := m.nextNumber
	m.nextNumber++
	m.announced = append(m.announced, announcement{friendID, kind, fileSize, fileID, fileName})
	return n, nil
}

func (m *mockTransport) FileSendChunk(friendID, fileNumber uint32, position uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failChunk {
		return errMockTransport
	}
	m.chunks = append(m.chunks, sentChunk{friendID, fileNumber, position, append([]byte(nil), data...)})
	return nil
}

func (m *mockTransport) FileControl(friendID, fileNumber uint32, control transport.FileControl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failControl {
		return errMockTransport
	}
	m.controls = append(m.controls, sentControl{friendID, fileNumber, control})
	return nil
}

func (m *mockTransport) FileGetFileID(friendID, fileNumber uint32) (crypto.ContentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFileID {
		return crypto.ContentID{}, errMockTransport
	}
	id, ok := m.fileIDs[fileNumber]
	if !ok {
		return crypto.ContentID{}, transport.ErrFileNotFound
	}
	return id, nil
}

func (m *mockTransport) setFileID(fileNumber uint32, id crypto.ContentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileIDs[fileNumber] = id
}

func (m *mockTransport) lastControl() (sentControl, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.controls) == 0 {
		return sentControl{}, false
	}
	return m.controls[len(m.controls)-1], true
}

func (m *mockTransport) controlCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controls)
}

// trackingFs wraps an afero.Fs and records which opened files are still open.
type trackingFs struct {
	afero.Fs

	mu        sync.Mutex
	open      map[string]int
	failClose bool
	failWrite bool
}

func newTrackingFs() *trackingFs {
	return &trackingFs{Fs: afero.NewMemMapFs(), open: make(map[string]int)}
}

func (fs *trackingFs) Open(name string) (afero.File, error) {
	f, err := fs.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return fs.wrap(name, f), nil
}

func (fs *trackingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := fs.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return fs.wrap(name, f), nil
}

func (fs *trackingFs) Create(name string) (afero.File, error) {
	f, err := fs.Fs.Create(name)
	if err != nil {
		return nil, err
	}
	return fs.wrap(name, f), nil
}

func (fs *trackingFs) wrap(name string, f afero.File) afero.File {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.open[name]++
	return &trackedFile{File: f, fs: fs, name: name}
}

// openCount returns how many handles for name are still open.
func (fs *trackingFs) openCount(name string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.open[name]
}

type trackedFile struct {
	afero.File
	fs     *trackingFs
	name   string
	closed bool
}

func (f *trackedFile) Close() error {
	if !f.closed {
		f.closed = true
		f.fs.mu.Lock()
		f.fs.open[f.name]--
		f.fs.mu.Unlock()
	}

	f.fs.mu.Lock()
	fail := f.fs.failClose
	f.fs.mu.Unlock()
	if fail {
		return errors.New("mock close failure")
	}
	return f.File.Close()
}

func (f *trackedFile) WriteAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	fail := f.fs.failWrite
	f.fs.mu.Unlock()
	if fail {
		return 0, errors.New("mock write failure")
	}
	return f.File.WriteAt(p, off)
}

// recorder collects progress events.
type recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recorder) handle(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

func (r *recorder) last() (ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ProgressEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

func subscribeRecorder(t *Transfer) *recorder {
	r := &recorder{}
	t.Subscribe(r.handle)
	return r
}
