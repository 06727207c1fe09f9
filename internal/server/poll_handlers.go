package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/relay"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
	"github.com/gin-gonic/gin"
)

type voteRequestPayload struct {
	OptionIndex *int   `json:"optionIndex"`
	VoterID     string `json:"voterId"`
}

type votedResponsePayload struct {
	PollID  string `json:"pollId"`
	VoterID string `json:"voterId"`
	Voted   bool   `json:"voted"`
}

func (h *httpHandler) handleActivePolls(c *gin.Context) {
	active, err := h.polls.ActivePolls(c.Request.Context())
	if err != nil {
		h.respondError(c, "polls.active", err)
		return
	}
	respondData(c, http.StatusOK, "", active)
}

func (h *httpHandler) handleVote(c *gin.Context) {
	var request voteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.OptionIndex == nil {
		h.respondError(c, "polls.vote", validation.New("optionIndex", "optionIndex is required"))
		return
	}
	poll, err := h.polls.SubmitVote(c.Request.Context(), c.Param("id"), *request.OptionIndex, request.VoterID)
	if err != nil {
		h.respondError(c, "polls.vote", err)
		return
	}
	h.publish(content.CollectionPolls, relay.ActionUpdate, &poll)
	respondData(c, http.StatusOK, "Vote recorded", &poll)
}

func (h *httpHandler) handleHasVoted(c *gin.Context) {
	pollID := c.Param("id")
	voterID := c.Query("voterId")
	voted, err := h.polls.HasVoted(c.Request.Context(), pollID, voterID)
	if err != nil {
		h.respondError(c, "polls.has_voted", err)
		return
	}
	respondData(c, http.StatusOK, "", votedResponsePayload{PollID: pollID, VoterID: voterID, Voted: voted})
}

func (h *httpHandler) handlePollAnalytics(c *gin.Context) {
	analytics, err := h.polls.Analytics(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "polls.analytics", err)
		return
	}
	respondData(c, http.StatusOK, "", analytics)
}
