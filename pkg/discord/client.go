// Package discord is a minimal REST client for the pieces of the Discord API
// the notifier needs: channel lookup, guild role/member resolution, and
// message creation.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jakedev796/github-notifier/pkg/format"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Channel is a Discord channel as returned by the API.
type Channel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
}

// Role is a Discord guild role.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is a Discord guild member.
type Member struct {
	Nick string `json:"nick"`
	User struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
	} `json:"user"`
}

// Client talks to the Discord REST API with a bot token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config configures the Discord client.
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a Discord REST client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Channel fetches a channel by ID.
func (c *Client) Channel(ctx context.Context, channelID int64) (*Channel, error) {
	var channel Channel
	path := fmt.Sprintf("/channels/%d", channelID)
	if err := c.do(ctx, http.MethodGet, path, nil, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

// GuildRoles lists the roles of a guild.
func (c *Client) GuildRoles(ctx context.Context, guildID int64) ([]Role, error) {
	var roles []Role
	path := fmt.Sprintf("/guilds/%d/roles", guildID)
	if err := c.do(ctx, http.MethodGet, path, nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// SearchMembers looks up guild members whose username or nickname starts
// with the query.
func (c *Client) SearchMembers(ctx context.Context, guildID int64, query string) ([]Member, error) {
	var members []Member
	path := fmt.Sprintf("/guilds/%d/members/search?query=%s&limit=10", guildID, url.QueryEscape(query))
	if err := c.do(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// CreateMessage posts a message with an embed to a channel. Content may be
// empty; the embed is required.
func (c *Client) CreateMessage(ctx context.Context, channelID int64, content string, msg *format.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	body := messagePayload{
		Content: content,
		Embeds:  []embed{toEmbed(msg)},
	}
	path := fmt.Sprintf("/channels/%d/messages", channelID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// MentionRole renders a role mention for message content.
func MentionRole(roleID string) string {
	return "<@&" + roleID + ">"
}

// MentionUser renders a user mention for message content.
func MentionUser(userID string) string {
	return "<@" + userID + ">"
}

// ParseSnowflake parses a Discord snowflake ID.
func ParseSnowflake(value string) (int64, error) {
	return strconv.ParseInt(value, 10, 64)
}

type messagePayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Author      *embedAuthor `json:"author,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type embedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func toEmbed(msg *format.Message) embed {
	out := embed{
		Title:       msg.Title,
		Description: msg.Description,
		URL:         msg.URL,
		Color:       msg.Color,
	}
	if !msg.Timestamp.IsZero() {
		out.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	if msg.Author != nil {
		out.Author = &embedAuthor{
			Name:    msg.Author.Name,
			URL:     msg.Author.URL,
			IconURL: msg.Author.IconURL,
		}
	}
	if msg.Footer != "" {
		out.Footer = &embedFooter{Text: msg.Footer}
	}
	for _, field := range msg.Fields {
		out.Fields = append(out.Fields, embedField{
			Name:   field.Name,
			Value:  field.Value,
			Inline: field.Inline,
		})
	}
	return out
}
