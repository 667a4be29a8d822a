package intel

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"threat-relay/internal/feed"
)

const (
	RansomwareLiveHost     = "api.ransomware.live"
	RansomwareLiveEndpoint = "https://api.ransomware.live/v2/recentvictims"

	ransomwareLiveSite = "https://www.ransomware.live"
)

type victim struct {
	Victim      string `json:"victim"`
	PostTitle   string `json:"post_title"`
	Group       string `json:"group"`
	GroupName   string `json:"group_name"`
	Country     string `json:"country"`
	Activity    string `json:"activity"`
	Description string `json:"description"`
	PostURL     string `json:"post_url"`
	Discovered  string `json:"discovered"`
	Published   string `json:"published"`
}

func (v victim) name() string {
	return firstNonEmpty(v.Victim, v.PostTitle)
}

func (v victim) group() string {
	return firstNonEmpty(v.Group, v.GroupName)
}

// DecodeRansomwareLive reads the recent-victims list, either bare or wrapped
// in a "data" or "results" object.
func DecodeRansomwareLive(payload []byte) ([]feed.Entry, error) {
	var victims []victim
	if err := json.Unmarshal(payload, &victims); err != nil {
		var wrapped struct {
			Data    []victim `json:"data"`
			Results []victim `json:"results"`
		}
		if werr := json.Unmarshal(payload, &wrapped); werr != nil {
			return nil, fmt.Errorf("failed to decode ransomware.live response: %w", err)
		}
		victims = wrapped.Data
		if len(victims) == 0 {
			victims = wrapped.Results
		}
	}

	out := make([]feed.Entry, 0, len(victims))
	for _, v := range victims {
		name, group := v.name(), v.group()
		if name == "" || group == "" {
			continue
		}

		link := strings.TrimSpace(v.PostURL)
		if link == "" {
			link = ransomwareLiveSite + "/group/" + url.PathEscape(group) + "?victim=" + url.QueryEscape(name)
		}

		var details []string
		if v.Country != "" {
			details = append(details, "Country: "+v.Country)
		}
		if v.Activity != "" {
			details = append(details, "Sector: "+v.Activity)
		}
		summary := fmt.Sprintf("%s claimed by the %s ransomware group.", name, group)
		if len(details) > 0 {
			summary += " " + strings.Join(details, ". ") + "."
		}
		if d := feed.CleanText(v.Description); d != "" {
			summary += " " + d
		}

		out = append(out, feed.Entry{
			Link:        link,
			Title:       fmt.Sprintf("%s ransomware claims %s", group, name),
			Summary:     summary,
			PublishedAt: parseTime(firstNonEmpty(v.Discovered, v.Published)),
		})
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
