// Package main provides the operator CLI for the tour server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

var (
	app    = kingpin.New("tourctl", "Operator CLI for the tour server")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()

	statusCmd = app.Command("status", "Show player status")

	playCmd     = app.Command("play", "Start or resume playback")
	stopCmd     = app.Command("stop", "Stop playback")
	nextCmd     = app.Command("next", "Skip to the next track")
	previousCmd = app.Command("previous", "Go back to the previous track")

	playTrackCmd   = app.Command("play-track", "Play a specific track")
	playTrackIndex = playTrackCmd.Arg("index", "Track index").Required().Int()

	positionCmd = app.Command("position", "Report a position fix")
	positionLat = positionCmd.Arg("lat", "Latitude").Required().Float64()
	positionLon = positionCmd.Arg("lon", "Longitude").Required().Float64()

	rebuildCmd = app.Command("rebuild", "Force a tour rebuild")

	watchCmd = app.Command("watch", "Stream player events until interrupted")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = showStatus()
	case playCmd.FullCommand():
		err = post("/api/play", nil)
	case stopCmd.FullCommand():
		err = post("/api/stop", nil)
	case nextCmd.FullCommand():
		err = post("/api/next", nil)
	case previousCmd.FullCommand():
		err = post("/api/previous", nil)
	case playTrackCmd.FullCommand():
		err = post(fmt.Sprintf("/api/tracks/%d/play", *playTrackIndex), nil)
	case positionCmd.FullCommand():
		err = post("/api/position", map[string]any{"lat": *positionLat, "lon": *positionLon})
	case rebuildCmd.FullCommand():
		err = post("/api/tour/rebuild", nil)
	case watchCmd.FullCommand():
		err = watch()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// post sends a control request and prints the server's answer.
func post(path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	resp, err := http.Post(*server+path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("unexpected response (status %d)", resp.StatusCode)
	}
	if !result.OK {
		return fmt.Errorf("%s (status %d)", result.Error, resp.StatusCode)
	}
	fmt.Println("OK")
	return nil
}

func showStatus() error {
	resp, err := http.Get(*server + "/api/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request failed (status %d)", resp.StatusCode)
	}

	var status struct {
		State        string `json:"state"`
		Index        int    `json:"index"`
		QueueLength  int    `json:"queue_length"`
		CurrentTrack *struct {
			Title string `json:"title"`
		} `json:"current_track"`
		Tracks []struct {
			Title    string  `json:"title"`
			Source   string  `json:"source"`
			Distance float64 `json:"distance_metres"`
		} `json:"tracks"`
		Position *struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"position"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return err
	}

	fmt.Printf("State: %s\n", status.State)
	if status.CurrentTrack != nil {
		fmt.Printf("Current: [%d/%d] %s\n", status.Index+1, status.QueueLength, status.CurrentTrack.Title)
	}
	if status.Position != nil {
		fmt.Printf("Position: %.5f, %.5f\n", status.Position.Lat, status.Position.Lon)
	}
	if len(status.Tracks) > 0 {
		fmt.Println("Queue:")
		for i, trk := range status.Tracks {
			marker := "  "
			if i == status.Index {
				marker = "> "
			}
			if trk.Distance > 0 {
				fmt.Printf("%s%2d. %s (%s, %.0fm)\n", marker, i+1, trk.Title, strings.ToLower(trk.Source), trk.Distance)
			} else {
				fmt.Printf("%s%2d. %s (%s)\n", marker, i+1, trk.Title, strings.ToLower(trk.Source))
			}
		}
	}
	return nil
}

// watch subscribes to the event stream and prints events until Ctrl+C.
func watch() error {
	u, err := url.Parse(*server)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/events"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	fmt.Println("Watching events (Ctrl+C to stop)...")
	for {
		var evt struct {
			Seq        uint64 `json:"seq"`
			Type       string `json:"type"`
			State      string `json:"state"`
			Index      int    `json:"index"`
			TrackTitle string `json:"track_title"`
			Error      string `json:"error"`
			Message    string `json:"message"`
		}
		if err := conn.ReadJSON(&evt); err != nil {
			return nil
		}
		line := fmt.Sprintf("[%d] %s state=%s index=%d", evt.Seq, evt.Type, evt.State, evt.Index)
		if evt.TrackTitle != "" {
			line += fmt.Sprintf(" track=%q", evt.TrackTitle)
		}
		if evt.Error != "" {
			line += fmt.Sprintf(" error=%q", evt.Error)
		}
		if evt.Message != "" {
			line += fmt.Sprintf(" message=%q", evt.Message)
		}
		fmt.Println(line)
	}
}
