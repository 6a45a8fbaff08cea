// Package customapi implements the backend adapter that talks to a
// self-hosted data API over plain HTTP and JSON.
package customapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Backend = (*Adapter)(nil)

const defaultTimeout = 30 * time.Second

// Adapter implements driven.Backend against the custom data API rooted at
// a base URL.
type Adapter struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewAdapter creates an Adapter for baseURL. A nil httpClient selects a
// client with a 30 second timeout.
func NewAdapter(baseURL string, httpClient *http.Client, logger *slog.Logger) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// Kind returns model.BackendCustomAPI.
func (a *Adapter) Kind() model.BackendKind {
	return model.BackendCustomAPI
}

// BaseURL returns the normalized API root.
func (a *Adapter) BaseURL() string {
	return a.baseURL
}

// Select posts a select request to the database endpoint.
func (a *Adapter) Select(ctx context.Context, table string, opts model.SelectOptions) (resp model.Response) {
	defer a.recoverPanic("select", &resp)

	env, err := a.database(ctx, "select", model.DatabaseRequest{
		Table:   table,
		Action:  model.ActionSelect,
		Filters: opts.Filters,
		Columns: opts.Columns,
		OrderBy: opts.OrderBy,
		Limit:   opts.Limit,
		Single:  opts.Single,
	})
	if err != nil {
		return model.Failure(err)
	}

	if opts.Single {
		var row model.Row
		if err := json.Unmarshal(env.Data, &row); err != nil {
			return model.Failure(decodeError("select", err))
		}
		return model.Response{Data: row}
	}

	rows, err := decodeRows("select", env.Data)
	if err != nil {
		return model.Failure(err)
	}
	return model.Response{Data: rows, Count: env.Count}
}

// Insert posts an insert request to the database endpoint.
func (a *Adapter) Insert(ctx context.Context, table string, rows []model.Row) (resp model.Response) {
	defer a.recoverPanic("insert", &resp)
	return a.write(ctx, "insert", model.DatabaseRequest{
		Table:  table,
		Action: model.ActionInsert,
	}, rows)
}

// Update posts an update request for the rows matching filters.
func (a *Adapter) Update(ctx context.Context, table string, patch model.Row, filters model.Filters) (resp model.Response) {
	defer a.recoverPanic("update", &resp)
	return a.write(ctx, "update", model.DatabaseRequest{
		Table:   table,
		Action:  model.ActionUpdate,
		Filters: filters,
	}, patch)
}

// Upsert posts an upsert request to the database endpoint.
func (a *Adapter) Upsert(ctx context.Context, table string, rows []model.Row, opts model.UpsertOptions) (resp model.Response) {
	defer a.recoverPanic("upsert", &resp)
	return a.write(ctx, "upsert", model.DatabaseRequest{
		Table:      table,
		Action:     model.ActionUpsert,
		OnConflict: opts.OnConflict,
	}, rows)
}

// Delete posts a delete request for the rows matching filters.
func (a *Adapter) Delete(ctx context.Context, table string, filters model.Filters) (resp model.Response) {
	defer a.recoverPanic("delete", &resp)
	return a.write(ctx, "delete", model.DatabaseRequest{
		Table:   table,
		Action:  model.ActionDelete,
		Filters: filters,
	}, nil)
}

// UploadFile sends blob as a multipart form to the upload endpoint.
func (a *Adapter) UploadFile(ctx context.Context, bucket, path string, blob model.Blob) (resp model.Response) {
	defer a.recoverPanic("upload_file", &resp)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writeUploadForm(mw, bucket, path, blob); err != nil {
		return model.Failure(&model.BackendError{Backend: model.BackendCustomAPI, Op: "upload_file", Message: "build form", Err: err})
	}

	req, err := a.newRequest(ctx, "upload_file", http.MethodPost, "/upload", nil, &body)
	if err != nil {
		return model.Failure(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	env, err := a.doEnvelope(req, "upload_file")
	if err != nil {
		return model.Failure(err)
	}

	var obj model.FileObject
	if err := json.Unmarshal(env.Data, &obj); err != nil {
		return model.Failure(decodeError("upload_file", err))
	}
	return model.Response{Data: obj}
}

// DownloadFile fetches the raw object bytes.
func (a *Adapter) DownloadFile(ctx context.Context, bucket, path string) (resp model.Response) {
	defer a.recoverPanic("download_file", &resp)

	req, err := a.newRequest(ctx, "download_file", http.MethodGet, "/download", blobQuery(bucket, path), nil)
	if err != nil {
		return model.Failure(err)
	}

	body, err := a.do(req, "download_file")
	if err != nil {
		return model.Failure(err)
	}
	return model.Response{Data: body}
}

// DeleteFile asks the API to remove each path in bucket.
func (a *Adapter) DeleteFile(ctx context.Context, bucket string, paths []string) (resp model.Response) {
	defer a.recoverPanic("delete_file", &resp)

	payload, err := json.Marshal(model.DeleteFilesRequest{Bucket: bucket, Paths: paths})
	if err != nil {
		return model.Failure(&model.BackendError{Backend: model.BackendCustomAPI, Op: "delete_file", Message: "encode request", Err: err})
	}

	req, err := a.newRequest(ctx, "delete_file", http.MethodPost, "/delete-files", nil, bytes.NewReader(payload))
	if err != nil {
		return model.Failure(err)
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := a.doEnvelope(req, "delete_file")
	if err != nil {
		return model.Failure(err)
	}

	removed := []string{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &removed); err != nil {
			return model.Failure(decodeError("delete_file", err))
		}
	}
	return model.Response{Data: removed}
}

// GetPublicURL returns the download endpoint for the blob. It performs no I/O.
func (a *Adapter) GetPublicURL(bucket, path string) string {
	return a.baseURL + "/download?" + blobQuery(bucket, path).Encode()
}

func (a *Adapter) write(ctx context.Context, op string, req model.DatabaseRequest, data any) model.Response {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return model.Failure(&model.BackendError{Backend: model.BackendCustomAPI, Op: op, Message: "encode data", Err: err})
		}
		req.Data = raw
	}

	env, err := a.database(ctx, op, req)
	if err != nil {
		return model.Failure(err)
	}

	rows, err := decodeRows(op, env.Data)
	if err != nil {
		return model.Failure(err)
	}
	return model.Response{Data: rows}
}

func (a *Adapter) database(ctx context.Context, op string, dbReq model.DatabaseRequest) (model.APIEnvelope, error) {
	payload, err := json.Marshal(dbReq)
	if err != nil {
		return model.APIEnvelope{}, &model.BackendError{Backend: model.BackendCustomAPI, Op: op, Message: "encode request", Err: err}
	}

	req, err := a.newRequest(ctx, op, http.MethodPost, "/database", nil, bytes.NewReader(payload))
	if err != nil {
		return model.APIEnvelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	return a.doEnvelope(req, op)
}

func (a *Adapter) newRequest(ctx context.Context, op, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(a.baseURL + endpoint)
	if err != nil {
		return nil, &model.BackendError{Backend: model.BackendCustomAPI, Op: op, Message: "invalid api base url", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &model.BackendError{
			Backend: model.BackendCustomAPI,
			Op:      op,
			Message: fmt.Sprintf("api base url %q is not an absolute http(s) URL", a.baseURL),
		}
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &model.BackendError{Backend: model.BackendCustomAPI, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (a *Adapter) do(req *http.Request, op string) ([]byte, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &model.BackendError{Backend: model.BackendCustomAPI, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.BackendError{Backend: model.BackendCustomAPI, Op: op, StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(op, resp.StatusCode, body)
	}
	return body, nil
}

// doEnvelope runs req and decodes the envelope. An envelope whose error
// member is set is a failure even under a 2xx status.
func (a *Adapter) doEnvelope(req *http.Request, op string) (model.APIEnvelope, error) {
	body, err := a.do(req, op)
	if err != nil {
		return model.APIEnvelope{}, err
	}

	var env model.APIEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.APIEnvelope{}, decodeError(op, err)
	}
	if env.Error != nil {
		return model.APIEnvelope{}, &model.BackendError{
			Backend:    model.BackendCustomAPI,
			Op:         op,
			StatusCode: http.StatusOK,
			Code:       env.Error.Code,
			Message:    env.Error.Message,
		}
	}
	return env, nil
}

func (a *Adapter) recoverPanic(op string, resp *model.Response) {
	if r := recover(); r != nil {
		a.logger.Error("custom api adapter panic", "op", op, "panic", r)
		*resp = model.Failure(&model.BackendError{
			Backend: model.BackendCustomAPI,
			Op:      op,
			Message: fmt.Sprintf("panic: %v", r),
		})
	}
}

func writeUploadForm(mw *multipart.Writer, bucket, path string, blob model.Blob) error {
	if err := mw.WriteField("bucket", bucket); err != nil {
		return err
	}
	if err := mw.WriteField("path", path); err != nil {
		return err
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName(path)))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(blob.Data); err != nil {
		return err
	}
	return mw.Close()
}

func fileName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func blobQuery(bucket, path string) url.Values {
	return url.Values{"bucket": {bucket}, "path": {path}}
}

func decodeRows(op string, data json.RawMessage) ([]model.Row, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []model.Row{}, nil
	}
	var rows []model.Row
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, decodeError(op, err)
	}
	if rows == nil {
		rows = []model.Row{}
	}
	return rows, nil
}
