package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

var youtubeRegex = regexp.MustCompile(`(?:https?://)?(?:www\.|music\.)?(youtube\.com|youtu\.be)/\S+`)

func isYouTubeURL(input string) bool {
	return youtubeRegex.MatchString(input)
}

func isVideoURL(s string) bool {
	return strings.Contains(s, "youtube.com/watch?v=") ||
		strings.Contains(s, "music.youtube.com/watch?v=") ||
		strings.Contains(s, "youtu.be/")
}

func isPlaylistURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if strings.HasSuffix(u.Path, "/playlist") {
		return u.Query().Get("list") != ""
	}
	return u.Query().Get("list") != "" && u.Query().Get("v") == ""
}

// cleanVideoURL strips tracking and list parameters so the descriptor's
// locator is just the video itself.
func cleanVideoURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if host := strings.TrimPrefix(u.Host, "www."); host == "youtu.be" {
		return "https://www.youtube.com/watch?v=" + strings.TrimPrefix(u.Path, "/")
	}
	q := url.Values{}
	if v := u.Query().Get("v"); v != "" {
		q.Set("v", v)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}
