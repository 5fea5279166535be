package proc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/leeineian/tunequiz/sys"
	"github.com/lrstanley/go-ytdlp"
)

const (
	MsgDownloadStart   = "Downloading %s"
	MsgDownloadStderr  = "yt-dlp %s: %s"
	MsgDownloadFailed  = "yt-dlp download of %s failed: %v"
	MsgPlaylistListing = "Listing playlist %s (max %d)"
	PlaylistPageSize   = 100
)

// Downloader streams the best available audio of a track into w.
type Downloader interface {
	Download(ctx context.Context, trackID string, w io.Writer) error
}

// PlaylistLister resolves a playlist URL into track identifiers.
type PlaylistLister interface {
	PlaylistIDs(ctx context.Context, playlistURL string, limit int) ([]string, error)
}

// YtdlpDownloader drives yt-dlp through go-ytdlp.
type YtdlpDownloader struct {
	Proxy   string
	ShowLog bool
}

func TrackURL(trackID string) string {
	return "https://www.youtube.com/watch?v=" + trackID
}

func (d *YtdlpDownloader) newCommand() *ytdlp.Command {
	cmd := ytdlp.New().NoWarnings()
	if !d.ShowLog {
		cmd.Quiet()
	}
	if d.Proxy != "" {
		cmd.Proxy(d.Proxy)
	}
	return cmd
}

func (d *YtdlpDownloader) Download(ctx context.Context, trackID string, w io.Writer) error {
	if d.ShowLog {
		sys.LogAudio(MsgDownloadStart, trackID)
	}

	execCmd := d.newCommand().
		Format("bestaudio").
		Output("-").
		NoPlaylist().
		NoPart().
		IgnoreConfig().
		BuildCommand(ctx, "--force-ipv4", TrackURL(trackID))

	var stderr bytes.Buffer
	execCmd.Stdout = w
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	if d.ShowLog {
		logLines(trackID, &stderr)
	}
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()+stderr.String()), "broken pipe") {
			return nil
		}
		sys.LogAudio(MsgDownloadFailed, trackID, err)
		return fmt.Errorf("yt-dlp %s: %w", trackID, err)
	}
	return nil
}

func (d *YtdlpDownloader) PlaylistIDs(ctx context.Context, playlistURL string, limit int) ([]string, error) {
	if limit <= 0 || limit > PlaylistPageSize {
		limit = PlaylistPageSize
	}
	sys.LogAudio(MsgPlaylistListing, playlistURL, limit)

	execCmd := d.newCommand().
		FlatPlaylist().
		Print("%(id)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		IgnoreConfig().
		BuildCommand(ctx, "--yes-playlist", playlistURL)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	if err := execCmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: yt-dlp playlist: %v, stderr: %s", ErrServiceUnavailable, err, strings.TrimSpace(stderr.String()))
	}
	return parsePlaylistOutput(stdout.String(), limit), nil
}

func parsePlaylistOutput(out string, limit int) []string {
	ids := make([]string, 0)
	seen := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		id := strings.TrimSpace(line)
		if id == "" || id == "NA" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids
}

func logLines(trackID string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			sys.LogAudio(MsgDownloadStderr, trackID, line)
		}
	}
}
