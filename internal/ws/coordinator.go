package ws

import (
	"context"
	"strings"
	"time"

	"github.com/GeorgeZhiXu/AiChatBot/internal/ai"
	"github.com/GeorgeZhiXu/AiChatBot/internal/metrics"
	"github.com/GeorgeZhiXu/AiChatBot/internal/models"
	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// 房间的 AI 状态机：空闲 → 流式中 → 空闲。错误路径立刻折回空闲，
// 不存在持久的错误态。同一房间同时最多一次生成，流式中再次触发只回
// ai_busy 给触发者本人，绝不排队。

const aiBusyMessage = "AI is currently processing another request. Please wait..."

type aiEventKind int

const (
	aiDelta aiEventKind = iota
	aiDone
	aiFailed
)

type aiEvent struct {
	genID string
	kind  aiEventKind
	delta string
	err   error
}

// generation 是一次进行中的 AI 回复，全部字段仅由房间事件循环访问。
type generation struct {
	id          string
	triggeredBy uint
	triggerName string
	startedAt   time.Time
	acc         strings.Builder
}

// triggerAI 在房间事件循环内执行：状态门控、开始事件广播、启动生成。
func (rh *RoomHub) triggerAI(author *Client, content string) {
	if rh.gen != nil {
		// 拒绝而非排队：进行中的生成不受影响。
		author.trySend(encode(aiBusyEvent{Type: "ai_busy", Message: aiBusyMessage}))
		return
	}
	if rh.hub.provider == nil {
		author.trySend(encode(aiErrorEvent{Type: "ai_error", Message: "AI assistant is not configured"}))
		return
	}

	query := ai.ExtractQuery(content)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	history, err := rh.hub.history.Recent(ctx, rh.room.ID, rh.hub.cfg.AIContextSize)
	cancel()
	if err != nil {
		log.Error().Err(err).Uint("room_id", rh.room.ID).Msg("load ai context")
		rh.broadcast(encode(aiErrorEvent{Type: "ai_error", Message: "AI response failed: could not load chat context"}))
		return
	}

	rh.gen = &generation{
		id:          uuid.NewString(),
		triggeredBy: author.userID,
		triggerName: author.username,
		startedAt:   time.Now(),
	}
	rh.streamingFlag.Store(true)
	metrics.AIGenerationsActive.Inc()
	log.Info().Str("generation_id", rh.gen.id).Uint("room_id", rh.room.ID).
		Str("triggered_by", author.username).Msg("ai generation started")

	rh.broadcast(encode(aiResponseStartEvent{
		Type:        "ai_response_start",
		ID:          rh.gen.id,
		Username:    store.AIUsername,
		TriggeredBy: author.username,
		Timestamp:   rh.gen.startedAt,
	}))

	go rh.runGeneration(rh.gen.id, ai.BuildContext(history, query))
}

// runGeneration 在独立 goroutine 里消费 Provider 的流，把增量按序投回
// 房间事件循环。距上一个增量超过空闲超时即取消本次生成。房间事件循环
// 若已退出（房间被删除），所有投递都静默放弃。
func (rh *RoomHub) runGeneration(genID string, turns []ai.Turn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	idle := time.Duration(rh.hub.cfg.AIIdleTimeoutS) * time.Second
	watchdog := time.AfterFunc(idle, cancel)
	defer watchdog.Stop()

	err := rh.hub.provider.Stream(ctx, turns, func(delta string) error {
		watchdog.Reset(idle)
		select {
		case rh.aiEvents <- aiEvent{genID: genID, kind: aiDelta, delta: delta}:
			return nil
		case <-rh.done:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	ev := aiEvent{genID: genID, kind: aiDone}
	if err != nil {
		ev = aiEvent{genID: genID, kind: aiFailed, err: err}
	}
	select {
	case rh.aiEvents <- ev:
	case <-rh.done:
	}
}

// handleAIEvent 在房间事件循环内消费生成 goroutine 投回的事件。
// 无论成功还是失败，结束事件都会把状态清回空闲。
func (rh *RoomHub) handleAIEvent(ev aiEvent) {
	if rh.gen == nil || rh.gen.id != ev.genID {
		// 已结束的生成残留的事件，忽略。
		return
	}
	switch ev.kind {
	case aiDelta:
		rh.gen.acc.WriteString(ev.delta)
		metrics.AIChunksTotal.Inc()
		rh.broadcast(encode(aiResponseChunkEvent{Type: "ai_response_chunk", ID: ev.genID, Chunk: ev.delta}))
	case aiDone:
		rh.persistGeneration()
		rh.broadcast(encode(aiResponseEndEvent{Type: "ai_response_end", ID: ev.genID}))
		rh.finishGeneration("ok")
	case aiFailed:
		log.Warn().Err(ev.err).Str("generation_id", ev.genID).Uint("room_id", rh.room.ID).Msg("ai generation failed")
		rh.broadcast(encode(aiErrorEvent{Type: "ai_error", Message: "AI response failed: " + ev.err.Error()}))
		rh.finishGeneration("error")
	}
}

// persistGeneration 把累计的完整回复作为 AI 消息写入历史。
// 写入失败不阻断结束事件：各端已经拿到完整内容，只记日志。
func (rh *RoomHub) persistGeneration() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	triggeredBy := rh.gen.triggeredBy
	msg := models.Message{
		RoomID:      rh.room.ID,
		Seq:         rh.nextSeq + 1,
		Content:     rh.gen.acc.String(),
		IsAI:        true,
		TriggeredBy: &triggeredBy,
	}
	if err := rh.hub.history.Append(ctx, &msg); err != nil {
		log.Error().Err(err).Str("generation_id", rh.gen.id).Uint("room_id", rh.room.ID).Msg("persist ai message")
		return
	}
	rh.nextSeq = msg.Seq
}

func (rh *RoomHub) finishGeneration(status string) {
	metrics.AIGenerationsActive.Dec()
	metrics.AIGenerationsTotal.WithLabelValues(status).Inc()
	metrics.AIGenerationDuration.Observe(time.Since(rh.gen.startedAt).Seconds())
	rh.gen = nil
	rh.streamingFlag.Store(false)
}
