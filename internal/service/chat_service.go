// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/state"
	"docuchat-go/pkg/embedding"
	"docuchat-go/pkg/llm"
	"docuchat-go/pkg/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 固定问候语集合：归一化（去空白、转小写）后精确匹配才触发短路。
var greetings = map[string]struct{}{
	"hi":             {},
	"hello":          {},
	"hey":            {},
	"greetings":      {},
	"good morning":   {},
	"good afternoon": {},
	"good evening":   {},
}

const (
	greetingAnswer = "Hello! I'm DocuChat. Upload a document and ask me anything about its contents."
	noIndexAnswer  = "Please upload a document first. I can only answer questions about content you have uploaded."
	defaultTitle   = "New Chat"
)

// ChatService 定义了问答编排的接口。
// StreamAsk 只依赖消息写入能力，*websocket.Conn 直接满足该参数。
type ChatService interface {
	Ask(ctx context.Context, userID, question, sessionID string) (*model.AskResult, error)
	StreamAsk(ctx context.Context, userID, question, sessionID string, ws llm.MessageWriter) error
}

type chatService struct {
	embeddingClient embedding.Client
	llmClient       llm.Client
	sessionRepo     repository.SessionRepository
	manager         *state.Manager
	cfg             config.RetrievalConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	embeddingClient embedding.Client,
	llmClient llm.Client,
	sessionRepo repository.SessionRepository,
	manager *state.Manager,
	cfg config.RetrievalConfig,
) ChatService {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 4
	}
	if cfg.TitleMaxLen <= 0 {
		cfg.TitleMaxLen = 40
	}
	return &chatService{
		embeddingClient: embeddingClient,
		llmClient:       llmClient,
		sessionRepo:     sessionRepo,
		manager:         manager,
		cfg:             cfg,
	}
}

// Ask 编排一次完整的问答：会话解析 → 问候短路/缺索引 → 检索 → 生成 → 追加并持久化。
func (s *chatService) Ask(ctx context.Context, userID, question, sessionID string) (*model.AskResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	c := s.manager.Acquire(userID)
	defer c.Unlock()

	session := s.resolveSession(c, sessionID)
	log.Infof("[ChatService] 开始处理问答, user: %s, session: %s", userID, session.ID)

	// 问候短路：不检索、不调用生成模型，但两条消息仍写入会话。
	if normalized := strings.ToLower(strings.TrimSpace(question)); isGreeting(normalized) {
		log.Infof("[ChatService] 命中问候短路, user: %s", userID)
		s.appendTurns(session, question, greetingAnswer, nil)
		return &model.AskResult{Answer: greetingAnswer, Sources: []string{}, SessionID: session.ID}, nil
	}

	// 没有可检索内容时返回固定回答；这类轮次不写入会话。
	if c.Index.Len() == 0 {
		log.Infof("[ChatService] 用户 %s 尚无向量索引, 返回固定提示", userID)
		return &model.AskResult{Answer: noIndexAnswer, Sources: []string{}, SessionID: session.ID}, nil
	}

	answer, sources, err := s.retrieveAndGenerate(ctx, c, session, question)
	if err != nil {
		return nil, err
	}

	// 只有生成成功后才追加消息，失败不得留下半写的会话。
	s.appendTurns(session, question, answer, sources)
	return &model.AskResult{Answer: answer, Sources: sources, SessionID: session.ID}, nil
}

// StreamAsk 是 Ask 的 WebSocket 流式变体：回答分块下发，完整答案在流结束后写入会话。
func (s *chatService) StreamAsk(ctx context.Context, userID, question, sessionID string, ws llm.MessageWriter) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}

	c := s.manager.Acquire(userID)
	defer c.Unlock()

	session := s.resolveSession(c, sessionID)

	if normalized := strings.ToLower(strings.TrimSpace(question)); isGreeting(normalized) {
		s.appendTurns(session, question, greetingAnswer, nil)
		if err := writeChunk(ws, greetingAnswer); err != nil {
			return err
		}
		return sendCompletion(ws, session.ID)
	}

	if c.Index.Len() == 0 {
		if err := writeChunk(ws, noIndexAnswer); err != nil {
			return err
		}
		return sendCompletion(ws, session.ID)
	}

	prompt, sources, err := s.buildRetrievalPrompt(ctx, c, session, question)
	if err != nil {
		return err
	}

	// 拦截 websocket writer 以捕获完整答案，并把原始分块包装为 JSON
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder}
	if err := s.llmClient.StreamChat(ctx, prompt, interceptor); err != nil {
		return fmt.Errorf("生成模型调用失败: %w", err)
	}

	s.appendTurns(session, question, answerBuilder.String(), sources)
	return sendCompletion(ws, session.ID)
}

// retrieveAndGenerate 执行检索与生成，返回完整答案与来源文件名列表。
func (s *chatService) retrieveAndGenerate(ctx context.Context, c *state.Container, session *model.ChatSession, question string) (string, []string, error) {
	prompt, sources, err := s.buildRetrievalPrompt(ctx, c, session, question)
	if err != nil {
		return "", nil, err
	}
	answer, err := s.llmClient.Chat(ctx, prompt)
	if err != nil {
		log.Errorf("[ChatService] 生成模型调用失败: %v", err)
		return "", nil, fmt.Errorf("生成模型调用失败: %w", err)
	}
	return answer, sources, nil
}

// buildRetrievalPrompt 向量化问题、检索 topK 分块，并组装最终 prompt。
func (s *chatService) buildRetrievalPrompt(ctx context.Context, c *state.Container, session *model.ChatSession, question string) (string, []string, error) {
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, question)
	if err != nil {
		log.Errorf("[ChatService] 向量化问题失败: %v", err)
		return "", nil, fmt.Errorf("向量化问题失败: %w", err)
	}

	results := c.Index.Search(queryVector, s.cfg.TopK)
	log.Infof("[ChatService] 检索到 %d 个相关分块, user: %s", len(results), c.UserID)

	var contextBuilder strings.Builder
	for i, r := range results {
		if i > 0 {
			contextBuilder.WriteString("\n\n")
		}
		contextBuilder.WriteString(r.Chunk.Text)
	}

	// 来源按检索排名去重，保留首次出现的顺序
	seen := make(map[string]struct{})
	sources := make([]string, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Chunk.Source]; ok {
			continue
		}
		seen[r.Chunk.Source] = struct{}{}
		sources = append(sources, r.Chunk.Source)
	}

	history := s.buildHistory(session)
	prompt := fmt.Sprintf(`Answer based on context. Use history for references.

Context:
%s

History:
%s

Question: %s

Answer clearly with source at end like "Source: filename.pdf":`, contextBuilder.String(), history, question)

	return prompt, sources, nil
}

// buildHistory 取会话最近的若干条消息，按时间顺序格式化为 "<role>: <content>" 行。
func (s *chatService) buildHistory(session *model.ChatSession) string {
	messages := session.Messages
	if len(messages) > s.cfg.HistoryWindow {
		messages = messages[len(messages)-s.cfg.HistoryWindow:]
	}
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// resolveSession 按优先级解析会话：内存中的指定会话 → 磁盘恢复 → 当前会话 → 新建。
// 解析结果成为该用户后续未指定会话的问答所使用的当前会话。
func (s *chatService) resolveSession(c *state.Container, requestedID string) *model.ChatSession {
	if requestedID != "" {
		if session, ok := c.Sessions[requestedID]; ok {
			c.CurrentSessionID = session.ID
			return session
		}
		// 崩溃恢复路径：进程重启后会话 id 仍须能解析
		if record, err := s.sessionRepo.LoadSession(requestedID); err == nil && record.UserID == c.UserID {
			log.Infof("[ChatService] 从磁盘恢复会话 %s, user: %s", requestedID, c.UserID)
			c.Sessions[record.ID] = record
			c.CurrentSessionID = record.ID
			return record
		}
	} else if c.CurrentSessionID != "" {
		if session, ok := c.Sessions[c.CurrentSessionID]; ok {
			return session
		}
	}

	session := &model.ChatSession{
		ID:       uuid.NewString(),
		UserID:   c.UserID,
		Title:    defaultTitle,
		Created:  time.Now(),
		Messages: []model.ChatMessage{},
	}
	c.Sessions[session.ID] = session
	c.CurrentSessionID = session.ID
	log.Infof("[ChatService] 创建新会话 %s, user: %s", session.ID, c.UserID)
	return session
}

// appendTurns 将一问一答追加到会话并写穿到磁盘。
// 标题恰在会话从 0 条变为 2 条消息时设置为截断后的首个问题。
// 持久化失败只记日志不使请求失败：内存状态在进程存续期间仍是权威，
// 但重启会丢掉未保存的这一轮。
func (s *chatService) appendTurns(session *model.ChatSession, question, answer string, sources []string) {
	now := time.Now()
	session.Messages = append(session.Messages,
		model.ChatMessage{Role: model.RoleUser, Content: question, Timestamp: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: answer, Timestamp: now, Sources: sources},
	)

	if len(session.Messages) == 2 {
		session.Title = truncateTitle(question, s.cfg.TitleMaxLen)
	}

	if err := s.sessionRepo.SaveSession(session); err != nil {
		log.Errorf("[ChatService] 持久化会话 %s 失败: %v", session.ID, err)
	}
}

func truncateTitle(question string, maxLen int) string {
	runes := []rune(question)
	if len(runes) <= maxLen {
		return question
	}
	return string(runes[:maxLen]) + "..."
}

func isGreeting(normalized string) bool {
	_, ok := greetings[normalized]
	return ok
}

// wsWriterInterceptor 是对下游连接的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn   llm.MessageWriter
	writer *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

func writeChunk(ws llm.MessageWriter, text string) error {
	payload := map[string]string{"chunk": text}
	b, _ := json.Marshal(payload)
	return ws.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter, sessionID string) error {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"sessionId": sessionID,
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	return ws.WriteMessage(websocket.TextMessage, b)
}
