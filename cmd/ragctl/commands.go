package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// apiError mirrors the API's error envelope.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	CorrelationID string `json:"correlationId"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(c *cli.Context) *client {
	return &client{
		base:  strings.TrimRight(c.String("api"), "/"),
		token: c.String("token"),
		http:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// do sends body as JSON and decodes a successful response into out. Non-2xx
// responses become errors carrying the API's code and correlation id.
func (cl *client) do(c *cli.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(c.Context, method, cl.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}

	slog.Debug("sending request", "method", method, "path", path)
	resp, err := cl.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e apiError
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error.Code == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return fmt.Errorf("%s %s: %s: %s (correlation id %s)", method, path, e.Error.Code, e.Error.Message, e.CorrelationID)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func enqueueCommand(c *cli.Context) error {
	job := map[string]interface{}{
		"document_key": c.String("key"),
		"owner_id":     c.String("owner"),
		"file_name":    c.String("file-name"),
		"size":         c.Int64("size"),
	}
	var out struct {
		Data json.RawMessage `json:"data"`
	}
	if err := newClient(c).do(c, http.MethodPost, "/ingest", job, &out); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "enqueued %s\n", c.String("key"))
	return printJSON(c, out.Data)
}

func askCommand(c *cli.Context) error {
	query := c.String("query")
	if query == "" {
		query = strings.Join(c.Args().Slice(), " ")
	}
	if query == "" {
		return fmt.Errorf("a question is required")
	}
	req := map[string]interface{}{
		"query":         query,
		"owner_id":      c.String("owner"),
		"document_keys": c.StringSlice("doc"),
	}
	var out struct {
		Response        string   `json:"response"`
		Partial         bool     `json:"partial"`
		Hits            int      `json:"hits"`
		FailedDocuments []string `json:"failedDocuments"`
	}
	if err := newClient(c).do(c, http.MethodPost, "/query", req, &out); err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, out.Response)
	if out.Partial {
		fmt.Fprintf(c.App.Writer, "\n(partial answer from %d hits; failed: %s)\n", out.Hits, strings.Join(out.FailedDocuments, ", "))
	}
	return nil
}

func documentsCommand(c *cli.Context) error {
	path := "/documents"
	if owner := c.String("owner"); owner != "" {
		path += "?owner_id=" + url.QueryEscape(owner)
	}
	var out struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := newClient(c).do(c, http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	return printJSON(c, out.Data)
}

func deadLettersListCommand(c *cli.Context) error {
	var out struct {
		Data []struct {
			ID          string    `json:"id"`
			DocumentKey string    `json:"document_key"`
			Reason      string    `json:"reason"`
			Error       string    `json:"error"`
			Attempts    int       `json:"attempts"`
			CreatedAt   time.Time `json:"created_at"`
		} `json:"data"`
	}
	if err := newClient(c).do(c, http.MethodGet, "/deadletters", nil, &out); err != nil {
		return err
	}
	if len(out.Data) == 0 {
		fmt.Fprintln(c.App.Writer, "no dead letters")
		return nil
	}
	for _, l := range out.Data {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%d\t%s\t%s\n", l.ID, l.CreatedAt.Format(time.RFC3339), l.Reason, l.Attempts, l.DocumentKey, l.Error)
	}
	return nil
}

func deadLettersRetryCommand(c *cli.Context) error {
	id := c.String("id")
	if err := newClient(c).do(c, http.MethodPost, "/deadletters/"+url.PathEscape(id)+"/retry", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "requeued %s\n", id)
	return nil
}

func deadLettersDeleteCommand(c *cli.Context) error {
	id := c.String("id")
	if err := newClient(c).do(c, http.MethodDelete, "/deadletters/"+url.PathEscape(id), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted %s\n", id)
	return nil
}

func statsCommand(c *cli.Context) error {
	var out struct {
		Data struct {
			Documents   int `json:"documents"`
			DeadLetters int `json:"dead_letters"`
		} `json:"data"`
	}
	if err := newClient(c).do(c, http.MethodGet, "/stats", nil, &out); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "documents: %d\ndead letters: %d\n", out.Data.Documents, out.Data.DeadLetters)
	return nil
}
