package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/relay"
)

// EventDataUpdate is the SSE event name carrying a relay.ChangeEvent.
const EventDataUpdate = "data-update"

// Stream opens the realtime change stream. The returned channel closes when
// ctx ends or the server closes the connection.
func (c *Client) Stream(ctx context.Context, collections ...string) (<-chan relay.ChangeEvent, error) {
	query := url.Values{}
	if len(collections) > 0 {
		query.Set("collections", strings.Join(collections, ","))
	}
	request, err := c.newRequest(ctx, http.MethodGet, "/api/realtime/stream", query, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "text/event-stream")

	// The shared client's timeout would cut a long-lived stream.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	response, err := streamClient.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, &APIError{StatusCode: response.StatusCode, Message: fmt.Sprintf("stream rejected: %s", response.Status)}
	}

	events := make(chan relay.ChangeEvent)
	go func() {
		defer close(events)
		defer response.Body.Close()
		readEvents(ctx, bufio.NewScanner(response.Body), events)
	}()
	return events, nil
}

// readEvents parses text/event-stream frames and forwards data-update events.
func readEvents(ctx context.Context, scanner *bufio.Scanner, events chan<- relay.ChangeEvent) {
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if name == EventDataUpdate && data.Len() > 0 {
				var event relay.ChangeEvent
				if err := json.Unmarshal([]byte(data.String()), &event); err == nil {
					select {
					case events <- event:
					case <-ctx.Done():
						return
					}
				}
			}
			name = ""
			data.Reset()
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
}
