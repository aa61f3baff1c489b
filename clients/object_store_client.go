// Package clients wraps the object-store driver used by the uploader and
// manifest packages to read/write artifacts across file://, s3:// and
// http(s):// destinations.
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	xerrors "github.com/livepeer/catalyst-render/errors"
	"github.com/livepeer/catalyst-render/log"
	"github.com/livepeer/catalyst-render/metrics"
	"github.com/livepeer/go-tools/drivers"
)

var maxRetryInterval = 5 * time.Second

func DownloadOSURL(osURL string) (io.ReadCloser, error) {
	fileInfoReader, err := GetOSURL(osURL, "")
	if err != nil {
		return nil, err
	}
	return fileInfoReader.Body, nil
}

func GetOSURL(osURL, byteRange string) (*drivers.FileInfoReader, error) {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return nil, xerrors.Unretriable(fmt.Errorf("failed to parse OS URL %q: %w", log.RedactURL(osURL), err))
	}

	start := time.Now()

	sess := storageDriver.NewSession("")
	info := sess.GetInfo()
	var host string
	if info != nil && info.S3Info != nil {
		host = info.S3Info.Host
	}
	var fileInfoReader *drivers.FileInfoReader
	if byteRange == "" {
		fileInfoReader, err = sess.ReadData(context.Background(), "")
	} else {
		fileInfoReader, err = sess.ReadDataRange(context.Background(), "", byteRange)
	}

	if err != nil {
		metrics.Metrics.Uploads.FailureCount.WithLabelValues(host).Inc()

		if errors.Is(err, drivers.ErrNotExist) {
			return nil, xerrors.NewObjectNotFoundError("not found in OS", err)
		}
		return nil, fmt.Errorf("failed to read from OS URL %q: %w", log.RedactURL(osURL), err)
	}

	metrics.Metrics.Uploads.RequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())

	return fileInfoReader, nil
}

func UploadToOSURL(osURL, filename string, data io.Reader, timeout time.Duration) error {
	return UploadToOSURLFields(osURL, filename, data, timeout, nil)
}

func UploadToOSURLFields(osURL, filename string, data io.Reader, timeout time.Duration, fields *drivers.FileProperties) error {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return fmt.Errorf("failed to parse OS URL %q: %s", log.RedactURL(osURL), err)
	}
	start := time.Now()

	var host string
	sess := storageDriver.NewSession("")
	info := sess.GetInfo()
	if info != nil && info.S3Info != nil {
		host = info.S3Info.Host
	}

	_, err = sess.SaveData(context.Background(), filename, data, fields, timeout)
	if err != nil {
		metrics.Metrics.Uploads.FailureCount.WithLabelValues(host).Inc()
		return fmt.Errorf("failed to write to OS URL %q: %s", log.RedactURL(filepath.Join(osURL, filename)), err)
	}

	metrics.Metrics.Uploads.RequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())

	return nil
}

// Exists probes whether a file is already present at an OS URL, the way
// the Uploader checks before re-uploading a rendition file. A 1-byte range
// read avoids pulling the object's full body just to test presence.
func Exists(osURL string) (bool, error) {
	_, err := GetOSURL(osURL, "bytes=0-0")
	if err == nil {
		return true, nil
	}
	if xerrors.IsObjectNotFound(err) {
		return false, nil
	}
	return false, err
}

func ListOSURL(ctx context.Context, osURL string) (drivers.PageInfo, error) {
	osDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return nil, fmt.Errorf("unexpected error parsing internal driver URL: %w", err)
	}
	sess := osDriver.NewSession("")

	page, err := sess.ListFiles(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("error listing files: %w", err)
	}

	return page, nil
}

// SignURL returns a time-limited playable URL for inputs the transcoder
// cannot read directly (s3://); file:// and http(s):// pass through.
func SignURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse input URL: %w", err)
	}
	if u.Scheme == "" || u.Scheme == "file" || u.Scheme == "http" || u.Scheme == "https" {
		return rawURL, nil
	}
	driver, err := drivers.ParseOSURL(rawURL, true)
	if err != nil {
		return "", fmt.Errorf("failed to parse OS url: %w", err)
	}

	sess := driver.NewSession("")
	signedURL, err := sess.Presign("", 24*time.Hour)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed url: %w", err)
	}
	return signedURL, nil
}

func newExponentialBackOffExecutor() *backoff.ExponentialBackOff {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 200 * time.Millisecond
	backOff.MaxInterval = maxRetryInterval
	backOff.MaxElapsedTime = 0
	backOff.Reset()
	return backOff
}

func UploadRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(newExponentialBackOffExecutor(), 5)
}
