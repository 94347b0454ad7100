package service

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/state"
	"docuchat-go/internal/vectorstore"
	"docuchat-go/pkg/llm"
)

// fakeEmbedder 基于固定词表做词袋向量化并归一化，保证检索排序确定。
type fakeEmbedder struct{}

var embedVocab = []string{"sky", "blue", "water", "wet", "color"}

func (fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	lowered := strings.ToLower(text)
	vec := make([]float32, len(embedVocab))
	for i, word := range embedVocab {
		if strings.Contains(lowered, word) {
			vec[i] = 1
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

type fakeLLM struct {
	answer     string
	err        error
	lastPrompt string
	calls      int
}

func (f *fakeLLM) Chat(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeLLM) StreamChat(_ context.Context, prompt string, writer llm.MessageWriter) error {
	f.calls++
	f.lastPrompt = prompt
	if f.err != nil {
		return f.err
	}
	return writer.WriteMessage(1, []byte(f.answer))
}

// fakeExtractor 把上传内容原样当作纯文本返回。
type fakeExtractor struct{}

func (fakeExtractor) ExtractText(fileReader io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(fileReader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type chatFixture struct {
	svc     ChatService
	manager *state.Manager
	repo    repository.SessionRepository
	llm     *fakeLLM
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	repo, err := repository.NewSessionRepository(t.TempDir())
	require.NoError(t, err)
	manager := state.NewManager(nil)
	llmClient := &fakeLLM{answer: "The sky is blue. Source: sky.txt"}
	svc := NewChatService(fakeEmbedder{}, llmClient, repo, manager, config.RetrievalConfig{})
	return &chatFixture{svc: svc, manager: manager, repo: repo, llm: llmClient}
}

// seedIndex 给用户直接装配一个索引，绕过上传流程。
func (f *chatFixture) seedIndex(t *testing.T, userID string, texts []string, source string) {
	t.Helper()
	vectors := make([][]float32, 0, len(texts))
	chunks := make([]vectorstore.Chunk, 0, len(texts))
	for i, text := range texts {
		vec, err := fakeEmbedder{}.CreateEmbedding(context.Background(), text)
		require.NoError(t, err)
		vectors = append(vectors, vec)
		chunks = append(chunks, vectorstore.Chunk{Text: text, Source: source, FileID: "f1", Seq: i})
	}
	idx, err := vectorstore.New(vectors, chunks)
	require.NoError(t, err)
	c := f.manager.Get(userID)
	c.Lock()
	c.Index = idx
	c.Unlock()
}

func (f *chatFixture) currentSession(userID string) *model.ChatSession {
	c := f.manager.Get(userID)
	c.Lock()
	defer c.Unlock()
	return c.Sessions[c.CurrentSessionID]
}

func TestAskEmptyQuestion(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.svc.Ask(context.Background(), "u1", "   ", "")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAskGreetingShortCircuit(t *testing.T) {
	f := newChatFixture(t)

	for _, q := range []string{"hi", "Hello", "  hey  ", "GOOD MORNING"} {
		result, err := f.svc.Ask(context.Background(), "u1", q, "")
		require.NoError(t, err, q)
		assert.Equal(t, greetingAnswer, result.Answer, q)
		assert.Empty(t, result.Sources, q)
	}
	// 不触碰向量化与生成模型
	assert.Equal(t, 0, f.llm.calls)

	// 问候轮次仍写入会话
	session := f.currentSession("u1")
	require.NotNil(t, session)
	assert.Len(t, session.Messages, 8)
	assert.Equal(t, "hi", session.Title)
}

func TestAskGreetingExactMatchOnly(t *testing.T) {
	f := newChatFixture(t)
	f.seedIndex(t, "u1", []string{"The sky is blue"}, "sky.txt")

	// 前缀相同但不是问候语，必须走完整检索
	result, err := f.svc.Ask(context.Background(), "u1", "hiya", "")
	require.NoError(t, err)
	assert.NotEqual(t, greetingAnswer, result.Answer)
	assert.Equal(t, 1, f.llm.calls)
}

func TestAskWithoutIndex(t *testing.T) {
	f := newChatFixture(t)

	result, err := f.svc.Ask(context.Background(), "u1", "What color is the sky?", "")
	require.NoError(t, err)
	assert.Equal(t, noIndexAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 0, f.llm.calls)

	// 这类轮次不写入会话
	session := f.currentSession("u1")
	require.NotNil(t, session)
	assert.Empty(t, session.Messages)
	assert.Equal(t, defaultTitle, session.Title)
}

func TestAskRetrievalFlow(t *testing.T) {
	f := newChatFixture(t)
	f.seedIndex(t, "u1", []string{"The sky is blue and vast", "Water is wet and cold"}, "sky.txt")

	result, err := f.svc.Ask(context.Background(), "u1", "What color is the sky?", "")
	require.NoError(t, err)
	assert.Equal(t, f.llm.answer, result.Answer)
	assert.Equal(t, []string{"sky.txt"}, result.Sources)

	// 相关度最高的分块排在 prompt 的最前面
	require.Contains(t, f.llm.lastPrompt, "The sky is blue and vast")
	assert.Less(t,
		strings.Index(f.llm.lastPrompt, "The sky is blue and vast"),
		strings.Index(f.llm.lastPrompt, "Water is wet and cold"))
	assert.Contains(t, f.llm.lastPrompt, "Question: What color is the sky?")

	session := f.currentSession("u1")
	require.NotNil(t, session)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, model.RoleUser, session.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, session.Messages[1].Role)
	assert.Equal(t, []string{"sky.txt"}, session.Messages[1].Sources)
	assert.Equal(t, "What color is the sky?", session.Title)
}

func TestAskSourcesDeduplicated(t *testing.T) {
	f := newChatFixture(t)
	// 同一来源的多个分块在来源列表里只出现一次
	f.seedIndex(t, "u1", []string{"sky one", "sky two", "sky three"}, "sky.txt")

	result, err := f.svc.Ask(context.Background(), "u1", "Tell me about the sky", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sky.txt"}, result.Sources)
}

func TestAskTitleTruncation(t *testing.T) {
	f := newChatFixture(t)
	f.seedIndex(t, "u1", []string{"The sky is blue"}, "sky.txt")

	question := strings.Repeat("s", 60) + "ky"
	result, err := f.svc.Ask(context.Background(), "u1", question, "")
	require.NoError(t, err)

	c := f.manager.Get("u1")
	c.Lock()
	session := c.Sessions[result.SessionID]
	c.Unlock()
	require.NotNil(t, session)
	assert.Equal(t, string([]rune(question)[:40])+"...", session.Title)
	assert.Len(t, []rune(session.Title), 43)
}

func TestAskTitleSetOnlyOnce(t *testing.T) {
	f := newChatFixture(t)
	f.seedIndex(t, "u1", []string{"The sky is blue"}, "sky.txt")

	first, err := f.svc.Ask(context.Background(), "u1", "First sky question", "")
	require.NoError(t, err)
	_, err = f.svc.Ask(context.Background(), "u1", "Second sky question", first.SessionID)
	require.NoError(t, err)

	session := f.currentSession("u1")
	assert.Equal(t, "First sky question", session.Title)
	assert.Len(t, session.Messages, 4)
}

func TestAskGenerationFailureLeavesSessionClean(t *testing.T) {
	f := newChatFixture(t)
	f.seedIndex(t, "u1", []string{"The sky is blue"}, "sky.txt")
	f.llm.err = errors.New("上游超时")

	_, err := f.svc.Ask(context.Background(), "u1", "What color is the sky?", "")
	require.Error(t, err)

	// 生成失败不得留下半写的轮次
	session := f.currentSession("u1")
	require.NotNil(t, session)
	assert.Empty(t, session.Messages)
}

func TestAskResolvesSessionFromDisk(t *testing.T) {
	f := newChatFixture(t)

	recovered := &model.ChatSession{
		ID:     "restored-1",
		UserID: "u1",
		Title:  "之前的对话",
		Messages: []model.ChatMessage{
			{Role: model.RoleUser, Content: "old question"},
			{Role: model.RoleAssistant, Content: "old answer"},
		},
	}
	require.NoError(t, f.repo.SaveSession(recovered))

	result, err := f.svc.Ask(context.Background(), "u1", "hi", "restored-1")
	require.NoError(t, err)
	assert.Equal(t, "restored-1", result.SessionID)

	session := f.currentSession("u1")
	require.NotNil(t, session)
	assert.Equal(t, "之前的对话", session.Title)
	assert.Len(t, session.Messages, 4)
}

func TestAskRejectsForeignSession(t *testing.T) {
	f := newChatFixture(t)

	foreign := &model.ChatSession{ID: "foreign-1", UserID: "someone-else", Title: "x"}
	require.NoError(t, f.repo.SaveSession(foreign))

	// 归属不符时不挂接磁盘记录，而是新建会话
	result, err := f.svc.Ask(context.Background(), "u1", "hi", "foreign-1")
	require.NoError(t, err)
	assert.NotEqual(t, "foreign-1", result.SessionID)
}

func TestAskReusesCurrentSession(t *testing.T) {
	f := newChatFixture(t)

	first, err := f.svc.Ask(context.Background(), "u1", "hi", "")
	require.NoError(t, err)
	// 未指定会话 id 时复用当前会话
	second, err := f.svc.Ask(context.Background(), "u1", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestAskIsolatesUsers(t *testing.T) {
	f := newChatFixture(t)
	f.seedIndex(t, "u1", []string{"The sky is blue"}, "sky.txt")

	// u2 没有索引，不受 u1 的上传影响
	result, err := f.svc.Ask(context.Background(), "u2", "What color is the sky?", "")
	require.NoError(t, err)
	assert.Equal(t, noIndexAnswer, result.Answer)
}

func TestAskPersistsTurns(t *testing.T) {
	f := newChatFixture(t)
	f.seedIndex(t, "u1", []string{"The sky is blue"}, "sky.txt")

	result, err := f.svc.Ask(context.Background(), "u1", "What color is the sky?", "")
	require.NoError(t, err)

	// 写穿到磁盘的记录可以独立读回
	saved, err := f.repo.LoadSession(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", saved.UserID)
	assert.Len(t, saved.Messages, 2)
}

func TestBuildHistoryWindow(t *testing.T) {
	f := newChatFixture(t)
	f.seedIndex(t, "u1", []string{"The sky is blue"}, "sky.txt")

	first, err := f.svc.Ask(context.Background(), "u1", "sky question one", "")
	require.NoError(t, err)
	for _, q := range []string{"sky question two", "sky question three"} {
		_, err := f.svc.Ask(context.Background(), "u1", q, first.SessionID)
		require.NoError(t, err)
	}

	// 会话已有 4 条消息，第四问的 prompt 只携带最近 4 条，
	// 最早的一轮提问应已滑出窗口
	_, err = f.svc.Ask(context.Background(), "u1", "sky question four", first.SessionID)
	require.NoError(t, err)
	assert.NotContains(t, f.llm.lastPrompt, "user: sky question one")
	assert.Contains(t, f.llm.lastPrompt, "user: sky question three")
}
