// Package httpclient provides basic http functions
package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ErrNotModified is returned by conditional downloads when the remote file
// has not changed since the supplied timestamp.
var ErrNotModified = fmt.Errorf("remote file not modified")

// RemoteFileInfo contains information
type RemoteFileInfo struct {
	ETag         string
	LastModified string
	Path         string
}

func getRemoteFileInfo(url string, resp *http.Response) RemoteFileInfo {
	return RemoteFileInfo{
		Path:         url,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
}

// DownloadedFile contains information about a file that has been downloaded to the local file system
type DownloadedFile struct {
	RemoteFileInfo RemoteFileInfo
	LocalFilePath  string
	Size           int64
	DownloadedAt   time.Time
}

// DownloadRemoteFile retrieves a file from a url to a local file destination.
// On success returns information about the file in DownloadedFile
func DownloadRemoteFile(destinationFileName string, url string) (*DownloadedFile, error) {
	return DownloadRemoteFileIfModified(destinationFileName, url, "")
}

// DownloadRemoteFileIfModified retrieves a file from a url to a local file
// destination, sending If-Modified-Since when lastModified is non-empty.
// Returns ErrNotModified on a 304 response.
func DownloadRemoteFileIfModified(destinationFileName string, url string, lastModified string) (*DownloadedFile, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if len(lastModified) > 0 {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d retrieving %s", resp.StatusCode, url)
	}

	// Create the file
	out, err := os.Create(destinationFileName)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = out.Close()
	}()
	// Write the body to file
	bytesWritten, err := io.Copy(out, resp.Body)
	if err != nil {
		return nil, err
	}
	remoteFileInfo := getRemoteFileInfo(url, resp)

	result := DownloadedFile{
		RemoteFileInfo: remoteFileInfo,
		LocalFilePath:  destinationFileName,
		Size:           bytesWritten,
		DownloadedAt:   time.Now(),
	}
	return &result, err
}

// FetchBytes retrieves the body at url with a bounded timeout, used for
// protobuf feeds and graph tiles that are consumed in memory.
func FetchBytes(url string, timeout time.Duration) ([]byte, error) {
	client := http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d retrieving %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
