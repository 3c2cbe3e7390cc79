package message_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/iyunix/go-localchat/internal/domain"
	"github.com/iyunix/go-localchat/internal/repository/conversation"
	"github.com/iyunix/go-localchat/internal/repository/message"
	"github.com/iyunix/go-localchat/internal/repository/repotest"
)

func setup(t *testing.T) (*gorm.DB, message.MessageRepository, *domain.Conversation) {
	t.Helper()
	db := repotest.Open(t)
	project := &domain.Project{Name: "notes"}
	require.NoError(t, db.Create(project).Error)

	convRepo := conversation.NewConversationRepository(db, repotest.NopLogger{})
	conv, err := convRepo.Create(context.Background(), &domain.Conversation{ProjectID: project.ID, Title: "first"})
	require.NoError(t, err)
	return db, message.NewMessageRepository(db, repotest.NopLogger{}), conv
}

func completeTurn(t *testing.T, repo message.MessageRepository, conversationID uint, user, reply string) *message.TurnRecords {
	t.Helper()
	ctx := context.Background()
	records, err := repo.CreateTurn(ctx, conversationID, user)
	require.NoError(t, err)
	_, err = repo.Finalize(ctx, message.FinalizeInput{
		MessageID: records.Placeholder.ID,
		Status:    domain.StatusCompleted,
		Content:   reply,
	})
	require.NoError(t, err)
	return records
}

func TestCreateTurnPersistsBothMessages(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()

	records, err := repo.CreateTurn(ctx, conv.ID, "Hi")
	require.NoError(t, err)

	assert.Equal(t, domain.RoleUser, records.UserMessage.Role)
	assert.Equal(t, domain.StatusCompleted, records.UserMessage.Status)
	assert.Equal(t, domain.RoleAssistant, records.Placeholder.Role)
	assert.Equal(t, domain.StatusStreaming, records.Placeholder.Status)
	assert.Empty(t, records.Placeholder.Content)
	assert.Greater(t, records.Placeholder.ID, records.UserMessage.ID)

	// only the user message is counted while the placeholder streams
	assert.EqualValues(t, 1, records.Conversation.MessageCount)
	require.NotNil(t, records.Conversation.LastMessageAt)
}

func TestCreateTurnRejectsConcurrentTurn(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()

	_, err := repo.CreateTurn(ctx, conv.ID, "first")
	require.NoError(t, err)

	_, err = repo.CreateTurn(ctx, conv.ID, "second")
	assert.ErrorIs(t, err, message.ErrTurnInProgress)
}

func TestCreateTurnUnknownConversation(t *testing.T) {
	_, repo, _ := setup(t)

	_, err := repo.CreateTurn(context.Background(), 999, "Hi")
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestFinalizeCompletedUpdatesStats(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()

	records, err := repo.CreateTurn(ctx, conv.ID, "Hi")
	require.NoError(t, err)

	updated, err := repo.Finalize(ctx, message.FinalizeInput{
		MessageID:        records.Placeholder.ID,
		Status:           domain.StatusCompleted,
		Content:          "Hello",
		TokenCount:       1,
		CompletionTimeMs: 42,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.MessageCount)

	stored, err := repo.FindByID(ctx, records.Placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", stored.Content)
	assert.Equal(t, 1, stored.TokenCount)
	assert.EqualValues(t, 42, stored.CompletionTimeMs)

	_, err = repo.Finalize(ctx, message.FinalizeInput{
		MessageID: records.Placeholder.ID,
		Status:    domain.StatusFailed,
		Content:   domain.FailureMarker,
	})
	assert.ErrorIs(t, err, message.ErrAlreadyFinalized)
}

func TestFinalizeFailedLeavesStatsUnchanged(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()

	completeTurn(t, repo, conv.ID, "one", "reply one")
	before, err := repo.RecomputeConversationStats(ctx, conv.ID)
	require.NoError(t, err)

	records, err := repo.CreateTurn(ctx, conv.ID, "two")
	require.NoError(t, err)
	after, err := repo.Finalize(ctx, message.FinalizeInput{
		MessageID: records.Placeholder.ID,
		Status:    domain.StatusFailed,
		Content:   domain.FailureMarker,
	})
	require.NoError(t, err)

	// the new user message counts, the failed reply does not
	assert.Equal(t, before.MessageCount+1, after.MessageCount)
	stored, err := repo.FindByID(ctx, records.Placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureMarker, stored.Content)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestFinalizeRejectsEmptyCompletion(t *testing.T) {
	_, repo, conv := setup(t)
	records, err := repo.CreateTurn(context.Background(), conv.ID, "Hi")
	require.NoError(t, err)

	_, err = repo.Finalize(context.Background(), message.FinalizeInput{
		MessageID: records.Placeholder.ID,
		Status:    domain.StatusCompleted,
		Content:   "  \n",
	})
	assert.ErrorIs(t, err, message.ErrInvalidMessage)
}

func TestStatsMatchCountedMessages(t *testing.T) {
	db, repo, conv := setup(t)
	ctx := context.Background()

	completeTurn(t, repo, conv.ID, "one", "reply one")
	second := completeTurn(t, repo, conv.ID, "two", "reply two")

	updated, err := repo.Delete(ctx, second.UserMessage.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, updated.MessageCount)

	var latest domain.Message
	require.NoError(t, db.Where("conversation_id = ?", conv.ID).Order("created_at DESC, id DESC").First(&latest).Error)
	require.NotNil(t, updated.LastMessageAt)
	assert.WithinDuration(t, latest.CreatedAt, *updated.LastMessageAt, time.Millisecond)
}

func TestDeleteStreamingMessageRejected(t *testing.T) {
	_, repo, conv := setup(t)
	records, err := repo.CreateTurn(context.Background(), conv.ID, "Hi")
	require.NoError(t, err)

	_, err = repo.Delete(context.Background(), records.Placeholder.ID)
	assert.ErrorIs(t, err, message.ErrTurnInProgress)
}

func TestCreateRegenerationLinksParent(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()

	first := completeTurn(t, repo, conv.ID, "one", "reply one")

	regen, err := repo.CreateRegeneration(ctx, first.Placeholder.ID)
	require.NoError(t, err)
	require.NotNil(t, regen.Placeholder.ParentMessageID)
	assert.Equal(t, first.Placeholder.ID, *regen.Placeholder.ParentMessageID)
	assert.Equal(t, domain.StatusStreaming, regen.Placeholder.Status)
	assert.Equal(t, first.Placeholder.ID, regen.Target.ID)

	_, err = repo.CreateRegeneration(ctx, first.Placeholder.ID)
	assert.ErrorIs(t, err, message.ErrTurnInProgress)
}

func TestCreateRegenerationRejectsUserMessage(t *testing.T) {
	_, repo, conv := setup(t)
	first := completeTurn(t, repo, conv.ID, "one", "reply one")

	_, err := repo.CreateRegeneration(context.Background(), first.UserMessage.ID)
	assert.ErrorIs(t, err, message.ErrInvalidMessage)
}

func TestCreateRegenerationRejectsCycle(t *testing.T) {
	db, repo, conv := setup(t)
	first := completeTurn(t, repo, conv.ID, "one", "reply one")

	// corrupt the lineage into a self loop
	require.NoError(t, db.Model(&domain.Message{}).Where("id = ?", first.Placeholder.ID).
		Update("parent_message_id", first.Placeholder.ID).Error)

	_, err := repo.CreateRegeneration(context.Background(), first.Placeholder.ID)
	assert.ErrorIs(t, err, message.ErrInvalidLineage)
}

func TestCreateRegenerationRejectsForeignParent(t *testing.T) {
	db, repo, conv := setup(t)
	first := completeTurn(t, repo, conv.ID, "one", "reply one")

	other := &domain.Conversation{ProjectID: conv.ProjectID}
	require.NoError(t, db.Create(other).Error)
	foreign := completeTurn(t, repo, other.ID, "elsewhere", "reply")

	require.NoError(t, db.Model(&domain.Message{}).Where("id = ?", first.Placeholder.ID).
		Update("parent_message_id", foreign.Placeholder.ID).Error)

	_, err := repo.CreateRegeneration(context.Background(), first.Placeholder.ID)
	assert.ErrorIs(t, err, message.ErrInvalidLineage)
}

func TestUpdateReaction(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()
	first := completeTurn(t, repo, conv.ID, "one", "reply one")

	updated, err := repo.UpdateReaction(ctx, first.Placeholder.ID, domain.ReactionThumbsUp)
	require.NoError(t, err)
	require.NotNil(t, updated.Reaction)
	assert.Equal(t, domain.ReactionThumbsUp, *updated.Reaction)

	cleared, err := repo.UpdateReaction(ctx, first.Placeholder.ID, domain.ReactionNone)
	require.NoError(t, err)
	assert.Nil(t, cleared.Reaction)

	_, err = repo.UpdateReaction(ctx, first.Placeholder.ID, "heart")
	assert.ErrorIs(t, err, message.ErrInvalidMessage)
	_, err = repo.UpdateReaction(ctx, first.UserMessage.ID, domain.ReactionThumbsUp)
	assert.ErrorIs(t, err, message.ErrInvalidMessage)
}

func TestFailStaleStreaming(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()
	records, err := repo.CreateTurn(ctx, conv.ID, "Hi")
	require.NoError(t, err)

	n, err := repo.FailStaleStreaming(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, err := repo.FindByID(ctx, records.Placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, domain.FailureMarker, stored.Content)

	// a new turn is allowed again
	_, err = repo.CreateTurn(ctx, conv.ID, "again")
	assert.NoError(t, err)
}

func TestFindHistoryPageOrdering(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()
	completeTurn(t, repo, conv.ID, "one", "reply one")
	completeTurn(t, repo, conv.ID, "two", "reply two")

	page, err := repo.FindHistoryPage(ctx, message.HistoryQuery{ConversationID: conv.ID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "reply two", page[0].Content)
	assert.Equal(t, "two", page[1].Content)
	assert.Equal(t, "reply one", page[2].Content)
}

func TestRegenerationKeepsOriginalPosition(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()
	first := completeTurn(t, repo, conv.ID, "one", "reply one")
	completeTurn(t, repo, conv.ID, "two", "reply two")

	regen, err := repo.CreateRegeneration(ctx, first.Placeholder.ID)
	require.NoError(t, err)
	require.NotNil(t, regen.Root)
	assert.Equal(t, first.Placeholder.ID, regen.Root.ID)
	assert.True(t, first.Placeholder.CreatedAt.Equal(regen.Placeholder.CreatedAt))
	_, err = repo.Finalize(ctx, message.FinalizeInput{MessageID: regen.Placeholder.ID, Status: domain.StatusCompleted, Content: "reply one, again"})
	require.NoError(t, err)

	// the new version sorts with the first answer, ahead of the older one
	page, err := repo.FindHistoryPage(ctx, message.HistoryQuery{ConversationID: conv.ID, Limit: 10})
	require.NoError(t, err)
	var contents []string
	for _, m := range page {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"reply two", "two", "reply one, again", "reply one", "one"}, contents)

	// history before the answer excludes every version of it
	page, err = repo.FindHistoryPage(ctx, message.HistoryQuery{ConversationID: conv.ID, BeforeID: first.Placeholder.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)
}

func TestCreateRegenerationRejectsSupersededAnswer(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()
	first := completeTurn(t, repo, conv.ID, "one", "reply one")

	regen, err := repo.CreateRegeneration(ctx, first.Placeholder.ID)
	require.NoError(t, err)
	_, err = repo.Finalize(ctx, message.FinalizeInput{MessageID: regen.Placeholder.ID, Status: domain.StatusFailed, Content: domain.FailureMarker})
	require.NoError(t, err)

	// a failed attempt does not replace the answer
	retry, err := repo.CreateRegeneration(ctx, first.Placeholder.ID)
	require.NoError(t, err)
	_, err = repo.Finalize(ctx, message.FinalizeInput{MessageID: retry.Placeholder.ID, Status: domain.StatusCompleted, Content: "better"})
	require.NoError(t, err)

	_, err = repo.CreateRegeneration(ctx, first.Placeholder.ID)
	assert.ErrorIs(t, err, message.ErrSuperseded)

	next, err := repo.CreateRegeneration(ctx, retry.Placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Placeholder.ID, next.Root.ID)
	assert.True(t, first.Placeholder.CreatedAt.Equal(next.Placeholder.CreatedAt))
}

func TestLineage(t *testing.T) {
	_, repo, conv := setup(t)
	ctx := context.Background()
	first := completeTurn(t, repo, conv.ID, "one", "reply one")

	regen, err := repo.CreateRegeneration(ctx, first.Placeholder.ID)
	require.NoError(t, err)
	_, err = repo.Finalize(ctx, message.FinalizeInput{MessageID: regen.Placeholder.ID, Status: domain.StatusCompleted, Content: "v2"})
	require.NoError(t, err)
	again, err := repo.CreateRegeneration(ctx, regen.Placeholder.ID)
	require.NoError(t, err)

	chain, err := repo.Lineage(ctx, again.Placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{again.Placeholder.ID, regen.Placeholder.ID, first.Placeholder.ID}, chain)

	chain, err = repo.Lineage(ctx, first.Placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{first.Placeholder.ID}, chain)

	_, err = repo.Lineage(ctx, 999)
	assert.ErrorIs(t, err, message.ErrMessageNotFound)
}
