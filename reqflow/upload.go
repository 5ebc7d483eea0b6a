package reqflow

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

const defaultChunkSize = 5 * 1024 * 1024 // 5 MiB

// defaultMaxParallelChunks bounds how many chunks of a single upload are in
// flight at once when UploadOptions.MaxParallelChunks is unset.
const defaultMaxParallelChunks = 4

// UploadOptions configures a resumable chunked upload.
type UploadOptions struct {
	// ChunkSize defaults to 5 MiB when zero.
	ChunkSize int64
	// FieldName is the multipart form field the chunk bytes are sent under.
	// Defaults to "file".
	FieldName string
	// ResumeURL, if set, is queried with ?fileMd5=<hex> before upload to
	// discover which chunks the server already has. A nil/empty ResumeURL
	// disables resume discovery — every chunk is (re)sent.
	ResumeURL string
	// FormFields are extra fields sent with every chunk request, alongside
	// the fixed fileMd5/chunkMd5/chunkIndex/totalChunks fields.
	FormFields map[string]string
	// CancelTokenID lets the caller cancel every chunk of this upload
	// through CancelRequest. If empty, an ID derived from the *os.File
	// pointer ("upload-<address>") is used.
	CancelTokenID string
	// MaxParallelChunks bounds how many chunks of this upload are sent
	// concurrently. Defaults to defaultMaxParallelChunks when <= 0. Every
	// in-flight chunk still passes through the shared ConcurrencyController,
	// so this only bounds one upload's own share of that budget.
	MaxParallelChunks int

	OnProgress      func(sent, total int64)
	OnChunkComplete func(index, total int)
}

type resumeResponse struct {
	Uploaded []int `json:"uploaded"`
}

// UploadHandle carries Pause, Resume and Cancel controls for one upload's
// chunk sends. UploadFile returns the handle only after the upload has
// settled, so calls on a returned handle do not affect that upload; an
// upload in progress is cancelled through its CancelTokenID instead.
type UploadHandle struct {
	mu     sync.Mutex
	paused bool
	gate   chan struct{}
	cancel context.CancelCauseFunc
}

func newUploadHandle(cancel context.CancelCauseFunc) *UploadHandle {
	h := &UploadHandle{cancel: cancel, gate: make(chan struct{})}
	close(h.gate) // start open (not paused)
	return h
}

// Pause blocks the next unstarted chunk from being sent until Resume is
// called. Chunks already in flight complete normally.
func (h *UploadHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paused {
		return
	}
	h.paused = true
	h.gate = make(chan struct{})
}

// Resume releases chunks blocked by Pause.
func (h *UploadHandle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		return
	}
	h.paused = false
	close(h.gate)
}

// Cancel aborts the upload; any chunk requests in flight are cancelled via
// the shared context.
func (h *UploadHandle) Cancel() {
	h.cancel(&CancelledError{Kind: CancelManual})
}

func (h *UploadHandle) waitUnpaused(ctx context.Context) error {
	h.mu.Lock()
	gate := h.gate
	h.mu.Unlock()
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UploadCoordinator drives resumable, chunked, hashed file uploads. File
// fingerprinting runs off the caller's goroutine so a large file's initial
// hash pass never blocks request submission; chunk sends run through the
// same ConcurrencyController and RetryPolicy as ordinary requests.
type UploadCoordinator struct {
	transport   UploadTransport
	concurrency *ConcurrencyController
	retry       *RetryPolicy
	cancels     *CancelRegistry
	metrics     *metricsRecorder
}

func NewUploadCoordinator(transport UploadTransport, concurrency *ConcurrencyController, retry *RetryPolicy, cancels *CancelRegistry, metrics *metricsRecorder) *UploadCoordinator {
	return &UploadCoordinator{transport: transport, concurrency: concurrency, retry: retry, cancels: cancels, metrics: metrics}
}

// UploadFile fingerprints file, discovers already-uploaded chunks via
// opts.ResumeURL if set, then sends the remaining chunks concurrently, at
// most opts.MaxParallelChunks at a time and in no guaranteed order,
// returning once every chunk has been acknowledged or one has failed.
func (u *UploadCoordinator) UploadFile(ctx context.Context, url string, file *os.File, opts UploadOptions) (*UploadHandle, *Response, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	fieldName := opts.FieldName
	if fieldName == "" {
		fieldName = "file"
	}

	info, err := file.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	totalChunks := int((size + chunkSize - 1) / chunkSize)
	if totalChunks == 0 {
		totalChunks = 1
	}

	fileHashCh := make(chan string, 1)
	fileErrCh := make(chan error, 1)
	go hashWholeFile(file, fileHashCh, fileErrCh)

	ctx, cancel := context.WithCancelCause(ctx)
	handle := newUploadHandle(cancel)
	tokenID := opts.CancelTokenID
	if tokenID == "" {
		tokenID = fmt.Sprintf("upload-%p", file)
	}
	u.cancels.Set(tokenID, cancel)
	defer u.cancels.Delete(tokenID)

	var fileMd5 string
	select {
	case fileMd5 = <-fileHashCh:
	case err := <-fileErrCh:
		cancel(nil)
		return handle, nil, err
	case <-ctx.Done():
		cancel(nil)
		return handle, nil, context.Cause(ctx)
	}

	uploaded, err := u.discoverUploaded(ctx, opts.ResumeURL, fileMd5)
	if err != nil {
		cancel(nil)
		return handle, nil, err
	}

	maxInFlight := opts.MaxParallelChunks
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxParallelChunks
	}

	var mu sync.Mutex
	var sent int64
	var lastResp *Response
	fileName := filepath.Base(file.Name())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)

	for idx := 0; idx < totalChunks; idx++ {
		if _, done := uploaded[idx]; done {
			sent += chunkBytes(idx, chunkSize, size)
			continue
		}
		idx := idx
		g.Go(func() error {
			if err := handle.waitUnpaused(gctx); err != nil {
				return err
			}

			chunk := make([]byte, chunkBytes(idx, chunkSize, size))
			if _, err := file.ReadAt(chunk, int64(idx)*chunkSize); err != nil && err != io.EOF {
				return err
			}
			sum := md5.Sum(chunk)
			chunkMd5 := hex.EncodeToString(sum[:])

			fields := []keyValue{
				{"fileMd5", fileMd5},
				{"chunkMd5", chunkMd5},
				{"chunkIndex", fmt.Sprintf("%d", idx)},
				{"totalChunks", fmt.Sprintf("%d", totalChunks)},
			}
			for k, v := range opts.FormFields {
				fields = append(fields, keyValue{k, v})
			}

			mp, err := buildChunkMultipart(fields, fieldName, fileName, chunk)
			if err != nil {
				return err
			}

			req := newRequest(MethodPost, url, RequestConfig{})
			resp, err := u.retry.Do(gctx, req, func(ctx context.Context, req *Request) (*Response, error) {
				return u.transport.SendMultipart(ctx, req, mp, func(chunkSent, chunkTotal int64) {
					if opts.OnProgress == nil {
						return
					}
					mu.Lock()
					progressed := sent + chunkSent
					mu.Unlock()
					opts.OnProgress(progressed, size)
				})
			})
			if err != nil {
				return err
			}

			mu.Lock()
			lastResp = resp
			sent += int64(len(chunk))
			mu.Unlock()
			if opts.OnChunkComplete != nil {
				opts.OnChunkComplete(idx, totalChunks)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ce := cancelCause(ctx); ce != nil {
			return handle, lastResp, ce
		}
		return handle, lastResp, err
	}

	if opts.OnProgress != nil {
		opts.OnProgress(size, size)
	}
	return handle, lastResp, nil
}

func chunkBytes(idx int, chunkSize, total int64) int64 {
	start := int64(idx) * chunkSize
	end := start + chunkSize
	if end > total {
		end = total
	}
	return end - start
}

func hashWholeFile(file *os.File, hashCh chan<- string, errCh chan<- error) {
	h := md5.New()
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		errCh <- err
		return
	}
	if _, err := io.Copy(h, file); err != nil {
		errCh <- err
		return
	}
	hashCh <- hex.EncodeToString(h.Sum(nil))
}

func (u *UploadCoordinator) discoverUploaded(ctx context.Context, resumeURL, fileMd5 string) (map[int]struct{}, error) {
	uploaded := make(map[int]struct{})
	if resumeURL == "" {
		return uploaded, nil
	}
	req := newRequest(MethodGet, resumeURL, RequestConfig{Params: map[string]string{"fileMd5": fileMd5}})
	resp, err := u.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return uploaded, nil
	}
	var parsed resumeResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return uploaded, nil
	}
	for _, idx := range parsed.Uploaded {
		uploaded[idx] = struct{}{}
	}
	return uploaded, nil
}
