package emote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/samber/oops"

	"twitch-chat-relay/errutil"
)

// getJSON выполняет GET и декодирует ответ 200 в out. Для остальных статусов тело не читается,
// статус возвращается вызывающему вместе с ошибкой.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, oops.With("url", url).Wrapf(err, "create request")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, oops.Code(errutil.CodeTransport).With("url", url).Wrapf(err, "request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, oops.Code(errutil.CodeAuth).With("url", url).Errorf("unauthorized")
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, oops.Code(errutil.CodeTransport).
			With("url", url, "status", resp.StatusCode).
			Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, oops.With("url", url).Wrapf(err, "decode response")
	}
	return resp.StatusCode, nil
}
