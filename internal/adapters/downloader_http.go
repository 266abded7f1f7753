package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/core"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const (
	defaultDownloadRetries = 3
	defaultDownloadTimeout = 10 * time.Minute
	maxRetryInterval       = 5 * time.Second
)

// HTTPDownloaderAdapter fetches over HTTP with per-URL timeouts and
// exponential backoff on transient failures.
type HTTPDownloaderAdapter struct {
	client   *http.Client
	retries  int
	timeout  time.Duration
	interval time.Duration
}

func NewHTTPDownloaderAdapter(client *http.Client, retries int, timeout time.Duration) *HTTPDownloaderAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = defaultDownloadRetries
	}
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &HTTPDownloaderAdapter{
		client:   client,
		retries:  retries,
		timeout:  timeout,
		interval: 200 * time.Millisecond,
	}
}

// WithRetries returns a copy using a different retry budget.
func (d *HTTPDownloaderAdapter) WithRetries(retries int) *HTTPDownloaderAdapter {
	clone := *d
	clone.retries = retries
	return &clone
}

func (d *HTTPDownloaderAdapter) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.interval
	exp.MaxInterval = maxRetryInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.retries)), ctx)
}

func (d *HTTPDownloaderAdapter) retry(ctx context.Context, url string, op func() error) error {
	notify := func(err error, wait time.Duration) {
		log.Ctx(ctx).Warn().Err(err).Str("url", url).Dur("retry_in", wait).Msg("download failed, retrying")
	}
	err := backoff.RetryNotify(op, d.policy(ctx), notify)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// get issues one GET and classifies the status code. The caller closes the
// body on success.
func (d *HTTPDownloaderAdapter) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(shared.InvalidArgument("invalid url " + url))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, shared.Unavailable("request failed for "+url, err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, backoff.Permanent(errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("HTTP code 404 while fetching " + url))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, shared.Unavailable(fmt.Sprintf("HTTP code %d while fetching %s", resp.StatusCode, url),
			shared.HTTPStatusError(resp.StatusCode, url))
	default:
		resp.Body.Close()
		return nil, backoff.Permanent(shared.Unavailable(fmt.Sprintf("HTTP code %d while fetching %s", resp.StatusCode, url),
			shared.HTTPStatusError(resp.StatusCode, url)))
	}
}

func (d *HTTPDownloaderAdapter) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := d.retry(ctx, url, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		resp, err := d.get(attemptCtx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return shared.Unavailable("failed to read "+url, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// DownloadTo writes url to destPath through a temporary file, so destPath
// only ever holds a complete, verified download.
func (d *HTTPDownloaderAdapter) DownloadTo(ctx context.Context, url string, destPath string, expected *types.Checksums) (types.Checksums, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return types.Checksums{}, shared.Internal("failed to create download directory", err)
	}
	var sums types.Checksums
	err := d.retry(ctx, url, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		resp, err := d.get(attemptCtx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		tmp := destPath + ".tmp-" + uuid.NewString()
		file, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(shared.Internal("failed to create "+tmp, err))
		}
		defer os.Remove(tmp)
		hasher := core.NewHashWriter(file)
		_, copyErr := io.Copy(hasher, resp.Body)
		closeErr := file.Close()
		if copyErr != nil {
			return shared.Unavailable("failed to download "+url, copyErr)
		}
		if closeErr != nil {
			return backoff.Permanent(shared.Internal("failed to write "+tmp, closeErr))
		}
		sums = hasher.Sums()
		if expected != nil {
			if field, ok := core.VerifyChecksums(*expected, sums); !ok {
				return backoff.Permanent(errbuilder.New().
					WithCode(shared.CodeChecksumMismatch).
					WithMsg(fmt.Sprintf("%s: %s checksum mismatch", url, field)))
			}
		}
		if err := os.Rename(tmp, destPath); err != nil {
			return backoff.Permanent(shared.Internal("failed to move download into place", err))
		}
		return nil
	})
	if err != nil {
		return types.Checksums{}, err
	}
	return sums, nil
}

// cancelOnClose releases the request context together with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func (d *HTTPDownloaderAdapter) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := d.retry(ctx, url, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		resp, err := d.get(attemptCtx, url)
		if err != nil {
			cancel()
			return err
		}
		body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

var _ ports.Downloader = (*HTTPDownloaderAdapter)(nil)
