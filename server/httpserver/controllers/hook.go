package controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gantryci/gantry/pkg/helper"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GitHub caps payloads at 25MB; anything bigger is not a hook.
const maxHookBody = 25 << 20

// GithubHook receives webhook deliveries, verifies the signature, and
// dispatches a run for every active workflow whose trigger matches.
// Redeliveries of an already seen delivery id are acknowledged without
// dispatching again.
func (ctr *Controller) GithubHook(c *gin.Context) {
	event := c.GetHeader("X-GitHub-Event")
	delivery := c.GetHeader("X-GitHub-Delivery")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxHookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}
	if secret := ctr.conf.Hook.Secret; secret != "" {
		if !VerifyHookSignature(c.GetHeader("X-Hub-Signature-256"), secret, body) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature mismatch"})
			return
		}
	}
	if event == "ping" {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
		return
	}
	if delivery != "" {
		fresh, err := storage.InsertHookDelivery(delivery, event)
		if err != nil {
			ctr.log.WithError(err).Warn("record hook delivery")
		} else if !fresh {
			c.JSON(http.StatusOK, gin.H{"message": "duplicate delivery"})
			return
		}
	}

	ev, err := TranslateHook(event, body)
	if err != nil {
		// GitHub retries non-2xx responses, and an event kind we do not
		// handle will not become handleable on retry.
		c.JSON(http.StatusOK, gin.H{"message": err.Error()})
		return
	}
	ev.DeliveryID = delivery
	ev.ReceivedAt = helper.UnixNow()

	wfs, err := storage.ActiveWorkflows()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	dispatched := make([]gin.H, 0)
	for _, wf := range wfs {
		if wf.Repo != "" && ev.Repo != "" && wf.Repo != ev.Repo {
			continue
		}
		compiled, err := workflow.CompileBytes([]byte(wf.RawData))
		if err != nil {
			ctr.log.WithError(err).WithField("workflow", wf.Name).Warn("stored workflow does not compile")
			continue
		}
		if !compiled.On.Matches(*ev) {
			continue
		}
		run, err := ctr.dispatcher.Dispatch(wf, *ev)
		if err != nil {
			ctr.log.WithError(err).WithField("workflow", wf.Name).Error("dispatch from hook")
			continue
		}
		dispatched = append(dispatched, gin.H{
			"workflow": wf.Name,
			"run_id":   run.ID,
			"number":   run.Number,
		})
	}
	ctr.log.WithFields(logrus.Fields{
		"event":      event,
		"delivery":   delivery,
		"dispatched": len(dispatched),
	}).Info("hook processed")
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"dispatched": dispatched}})
}

// VerifyHookSignature checks the X-Hub-Signature-256 header against the
// shared secret.
func VerifyHookSignature(header, secret string, body []byte) bool {
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

type hookRepository struct {
	FullName string `json:"full_name"`
}

type hookSender struct {
	Login string `json:"login"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository hookRepository `json:"repository"`
	Sender     hookSender     `json:"sender"`
}

type pushPayload struct {
	Ref        string         `json:"ref"`
	After      string         `json:"after"`
	Deleted    bool           `json:"deleted"`
	Repository hookRepository `json:"repository"`
	Sender     hookSender     `json:"sender"`
}

// TranslateHook reduces a webhook payload to the normalized trigger
// event. For pull requests the branch is the base branch, the one the
// change wants to land on.
func TranslateHook(event string, body []byte) (*workflow.Event, error) {
	switch event {
	case workflow.EventPullRequest:
		var p pullRequestPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("bad pull_request payload: %w", err)
		}
		return &workflow.Event{
			Kind:       workflow.EventPullRequest,
			Action:     p.Action,
			Repo:       p.Repository.FullName,
			Branch:     p.PullRequest.Base.Ref,
			HeadBranch: p.PullRequest.Head.Ref,
			SHA:        p.PullRequest.Head.SHA,
			Number:     p.Number,
			Sender:     p.Sender.Login,
		}, nil
	case workflow.EventPush:
		var p pushPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("bad push payload: %w", err)
		}
		if p.Deleted {
			return nil, fmt.Errorf("ref deletion push ignored")
		}
		ev := &workflow.Event{
			Kind:   workflow.EventPush,
			Repo:   p.Repository.FullName,
			SHA:    p.After,
			Sender: p.Sender.Login,
		}
		switch {
		case strings.HasPrefix(p.Ref, "refs/heads/"):
			ev.Branch = strings.TrimPrefix(p.Ref, "refs/heads/")
		case strings.HasPrefix(p.Ref, "refs/tags/"):
			ev.Tag = strings.TrimPrefix(p.Ref, "refs/tags/")
		default:
			return nil, fmt.Errorf("unrecognized ref %q", p.Ref)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("unhandled event %q", event)
}
