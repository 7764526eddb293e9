// Package format maps GitHub webhook events to structured notification
// messages. The mapping is a closed type switch over the SDK's typed
// payloads; event types outside the supported set yield no message.
package format

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"

	"github.com/jakedev796/github-notifier/internal"
	"github.com/jakedev796/github-notifier/pkg/storage"
)

// DefaultColor is the accent color used when neither the event state nor the
// tenant configuration supplies one.
const DefaultColor = 0x5865F2

const (
	colorGreen  = 0x2ECC71
	colorRed    = 0xE74C3C
	colorPurple = 0x9B59B6
	colorBlue   = 0x3498DB
	colorOrange = 0xF39C12
	colorGray   = 0x95A5A6
)

const (
	shortBodyLimit   = 500
	releaseBodyLimit = 1000
	maxLabels        = 10
	maxCommits       = 5
)

// SupportedEvents lists the event types the formatter can render, in the
// order they are documented.
var SupportedEvents = []string{
	"push",
	"pull_request",
	"issues",
	"release",
	"deployment",
	"workflow_run",
	"star",
	"fork",
}

// Supported reports whether the formatter can render the given event type.
func Supported(eventType string) bool {
	for _, name := range SupportedEvents {
		if name == eventType {
			return true
		}
	}
	return false
}

// Formatter renders webhook payloads into messages. It holds no mutable
// state; color resolution is a pure function of the event and the tenant
// config, so one Formatter is safe for concurrent use.
type Formatter struct {
	logger *log.Logger
	now    func() time.Time
}

// New creates a Formatter.
func New(logger *log.Logger) *Formatter {
	if logger == nil {
		logger = internal.NewLogger("format")
	}
	return &Formatter{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Format renders one event into a message, or nil when the event type is
// unsupported or the payload cannot be rendered. Formatting must never abort
// the pipeline: malformed payloads and panics both degrade to a nil message.
func (f *Formatter) Format(eventType string, payload []byte, cfg *storage.FilterRecord) (msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Printf("formatting %s panicked: %v", eventType, r)
			internal.IncFormatError()
			msg = nil
		}
	}()

	event, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		f.logger.Printf("parse %s payload failed: %v", eventType, err)
		internal.IncFormatError()
		return nil
	}

	fallback := fallbackColor(cfg)
	switch evt := event.(type) {
	case *gh.PushEvent:
		return f.formatPush(evt, fallback)
	case *gh.PullRequestEvent:
		return f.formatPullRequest(evt, fallback)
	case *gh.IssuesEvent:
		return f.formatIssues(evt, fallback)
	case *gh.ReleaseEvent:
		return f.formatRelease(evt, fallback)
	case *gh.DeploymentEvent:
		return f.formatDeployment(evt, fallback)
	case *gh.WorkflowRunEvent:
		return f.formatWorkflowRun(evt, fallback)
	case *gh.StarEvent:
		return f.formatStar(evt, fallback)
	case *gh.ForkEvent:
		return f.formatFork(evt, fallback)
	default:
		f.logger.Printf("unsupported event type: %s", eventType)
		return nil
	}
}

func (f *Formatter) formatPush(evt *gh.PushEvent, fallback int) *Message {
	branch := strings.TrimPrefix(evt.GetRef(), "refs/heads/")
	repo := orUnknown(evt.GetRepo().GetFullName())
	commits := evt.Commits

	msg := &Message{
		Title:     fmt.Sprintf("Push to %s", branch),
		URL:       evt.GetCompare(),
		Color:     fallback,
		Timestamp: f.now(),
		Author: &Author{
			Name: orUnknown(evt.GetPusher().GetName()),
		},
		Footer: evt.GetRepo().GetFullName(),
	}
	msg.addField("Repository", repo, true)
	msg.addField("Branch", branch, true)
	msg.addField("Commits", strconv.Itoa(len(commits)), true)

	if len(commits) > 0 {
		lines := make([]string, 0, maxCommits+1)
		for i, commit := range commits {
			if i == maxCommits {
				break
			}
			id := commit.GetID()
			if len(id) > 7 {
				id = id[:7]
			}
			summary := commit.GetMessage()
			if idx := strings.IndexByte(summary, '\n'); idx >= 0 {
				summary = summary[:idx]
			}
			author := orUnknown(commit.GetAuthor().GetName())
			lines = append(lines, fmt.Sprintf("`%s` %s - %s", id, summary, author))
		}
		if len(commits) > maxCommits {
			lines = append(lines, fmt.Sprintf("+%d more", len(commits)-maxCommits))
		}
		msg.addField("Recent Commits", strings.Join(lines, "\n"), false)
	}
	return msg
}

func (f *Formatter) formatPullRequest(evt *gh.PullRequestEvent, fallback int) *Message {
	pr := evt.GetPullRequest()
	action := evt.GetAction()
	repo := orUnknown(evt.GetRepo().GetFullName())

	color := fallback
	switch action {
	case "opened":
		color = colorGreen
	case "closed":
		color = colorRed
	case "merged":
		color = colorPurple
	case "reopened":
		color = colorBlue
	}

	msg := &Message{
		Title:       fmt.Sprintf("Pull Request #%d: %s", pr.GetNumber(), orUntitled(pr.GetTitle())),
		URL:         pr.GetHTMLURL(),
		Description: truncate(pr.GetBody(), shortBodyLimit),
		Color:       color,
		Timestamp:   f.timestampOrNow(pr.GetUpdatedAt().Time),
		Author:      userAuthor(pr.GetUser()),
		Footer:      evt.GetRepo().GetFullName(),
	}
	msg.addField("Action", capitalize(action), true)
	msg.addField("State", capitalize(pr.GetState()), true)
	msg.addField("Repository", repo, true)
	if pr.GetDraft() {
		msg.addField("Draft", "Yes", true)
	}
	if pr.GetMerged() {
		msg.addField("Merged", "Yes", true)
	}
	if pr.Base != nil && pr.Head != nil {
		msg.addField("Branch", fmt.Sprintf("%s ← %s", pr.GetBase().GetRef(), pr.GetHead().GetRef()), false)
	}
	msg.addField("Labels", joinLabels(pr.Labels), false)
	return msg
}

func (f *Formatter) formatIssues(evt *gh.IssuesEvent, fallback int) *Message {
	issue := evt.GetIssue()
	action := evt.GetAction()
	repo := orUnknown(evt.GetRepo().GetFullName())

	color := fallback
	switch action {
	case "opened":
		color = colorGreen
	case "closed":
		color = colorRed
	case "reopened":
		color = colorBlue
	}

	msg := &Message{
		Title:       fmt.Sprintf("Issue #%d: %s", issue.GetNumber(), orUntitled(issue.GetTitle())),
		URL:         issue.GetHTMLURL(),
		Description: truncate(issue.GetBody(), shortBodyLimit),
		Color:       color,
		Timestamp:   f.timestampOrNow(issue.GetUpdatedAt().Time),
		Author:      userAuthor(issue.GetUser()),
		Footer:      evt.GetRepo().GetFullName(),
	}
	msg.addField("Action", capitalize(action), true)
	msg.addField("State", capitalize(issue.GetState()), true)
	msg.addField("Repository", repo, true)
	if assignee := issue.GetAssignee(); assignee != nil {
		msg.addField("Assignee", fmt.Sprintf("[%s](%s)", orUnknown(assignee.GetLogin()), assignee.GetHTMLURL()), true)
	}
	msg.addField("Labels", joinLabels(issue.Labels), false)
	return msg
}

func (f *Formatter) formatRelease(evt *gh.ReleaseEvent, fallback int) *Message {
	release := evt.GetRelease()
	action := evt.GetAction()

	color := fallback
	if action == "published" {
		color = colorOrange
	}

	name := release.GetName()
	if name == "" {
		name = orUntitled(release.GetTagName())
	}

	msg := &Message{
		Title:       fmt.Sprintf("Release: %s", name),
		URL:         release.GetHTMLURL(),
		Description: truncate(release.GetBody(), releaseBodyLimit),
		Color:       color,
		Timestamp:   f.timestampOrNow(release.GetPublishedAt().Time),
		Footer:      evt.GetRepo().GetFullName(),
	}
	msg.addField("Action", capitalize(action), true)
	msg.addField("Tag", release.GetTagName(), true)
	msg.addField("Repository", orUnknown(evt.GetRepo().GetFullName()), true)
	if release.GetPrerelease() {
		msg.addField("Pre-release", "Yes", true)
	}
	if release.GetDraft() {
		msg.addField("Draft", "Yes", true)
	}
	return msg
}

func (f *Formatter) formatDeployment(evt *gh.DeploymentEvent, fallback int) *Message {
	deployment := evt.GetDeployment()

	msg := &Message{
		Title:     fmt.Sprintf("Deployment: %s", orUnknown(deployment.GetEnvironment())),
		URL:       deployment.GetURL(),
		Color:     fallback,
		Timestamp: f.now(),
		Footer:    evt.GetRepo().GetFullName(),
	}
	msg.addField("Environment", orUnknown(deployment.GetEnvironment()), true)
	msg.addField("Ref", deployment.GetRef(), true)
	msg.addField("Repository", orUnknown(evt.GetRepo().GetFullName()), true)
	msg.addField("Description", deployment.GetDescription(), false)
	return msg
}

func (f *Formatter) formatWorkflowRun(evt *gh.WorkflowRunEvent, fallback int) *Message {
	run := evt.GetWorkflowRun()
	conclusion := run.GetConclusion()

	color := fallback
	switch conclusion {
	case "success":
		color = colorGreen
	case "failure":
		color = colorRed
	case "cancelled":
		color = colorGray
	}

	msg := &Message{
		Title:     fmt.Sprintf("Workflow: %s", orUnknown(run.GetName())),
		URL:       run.GetHTMLURL(),
		Color:     color,
		Timestamp: f.now(),
		Footer:    evt.GetRepo().GetFullName(),
	}
	msg.addField("Status", capitalize(run.GetStatus()), true)
	if conclusion != "" {
		msg.addField("Conclusion", capitalize(conclusion), true)
	}
	msg.addField("Repository", orUnknown(evt.GetRepo().GetFullName()), true)
	msg.addField("Branch", run.GetHeadBranch(), true)
	return msg
}

func (f *Formatter) formatStar(evt *gh.StarEvent, fallback int) *Message {
	action := evt.GetAction()
	repo := evt.GetRepo()
	sender := evt.GetSender()

	color := fallback
	if action == "created" {
		color = colorOrange
	}

	actor := sender.GetLogin()
	if actor == "" {
		actor = "Someone"
	}

	msg := &Message{
		Title:       fmt.Sprintf("Repository %s", capitalize(action)),
		URL:         repo.GetHTMLURL(),
		Description: fmt.Sprintf("%s %s %s", actor, action, orUnknown(repo.GetFullName())),
		Color:       color,
		Timestamp:   f.now(),
		Author:      userAuthor(sender),
		Footer:      repo.GetFullName(),
	}
	msg.addField("Stars", strconv.Itoa(repo.GetStargazersCount()), true)
	return msg
}

func (f *Formatter) formatFork(evt *gh.ForkEvent, fallback int) *Message {
	forkee := evt.GetForkee()
	repo := evt.GetRepo()
	sender := evt.GetSender()

	actor := sender.GetLogin()
	if actor == "" {
		actor = "Someone"
	}

	msg := &Message{
		Title:       "Repository Forked",
		URL:         forkee.GetHTMLURL(),
		Description: fmt.Sprintf("%s forked %s", actor, orUnknown(repo.GetFullName())),
		Color:       fallback,
		Timestamp:   f.now(),
		Author:      userAuthor(sender),
		Footer:      repo.GetFullName(),
	}
	msg.addField("Fork", forkee.GetFullName(), true)
	return msg
}

func (f *Formatter) timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return f.now()
	}
	return ts.UTC()
}

func fallbackColor(cfg *storage.FilterRecord) int {
	if cfg == nil {
		return DefaultColor
	}
	color, err := ParseColor(cfg.EmbedColor)
	if err != nil {
		return DefaultColor
	}
	return color
}

// ParseColor parses a "0xRRGGBB", "#RRGGBB", or bare hex color string.
func ParseColor(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty color")
	}
	value = strings.TrimPrefix(value, "0x")
	value = strings.TrimPrefix(value, "#")
	parsed, err := strconv.ParseInt(value, 16, 32)
	if err != nil {
		return 0, err
	}
	return int(parsed), nil
}

// truncate caps a body at limit runes and appends an ellipsis marker when
// anything was cut.
func truncate(body string, limit int) string {
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit]) + "..."
}

func joinLabels(labels []*gh.Label) string {
	if len(labels) == 0 {
		return ""
	}
	names := make([]string, 0, maxLabels)
	for i, label := range labels {
		if i == maxLabels {
			break
		}
		names = append(names, label.GetName())
	}
	return strings.Join(names, ", ")
}

func userAuthor(user *gh.User) *Author {
	if user == nil {
		return &Author{Name: "Unknown"}
	}
	return &Author{
		Name:    orUnknown(user.GetLogin()),
		URL:     user.GetHTMLURL(),
		IconURL: user.GetAvatarURL(),
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "Unknown"
	}
	return value
}

func orUntitled(value string) string {
	if value == "" {
		return "Untitled"
	}
	return value
}

func capitalize(value string) string {
	if value == "" {
		return ""
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
