package backend

import "time"

// Conversation mirrors the knowledge-base service conversation record.
type Conversation struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted record of the conversation log. RawMessage holds
// the OpenAI-compatible wire payload and is the authoritative source for
// replay; Content and ToolCallID are denormalized columns.
type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	Role           string                 `json:"role"`
	Content        *string                `json:"content,omitempty"`
	ToolCallID     *string                `json:"tool_call_id,omitempty"`
	RawMessage     map[string]interface{} `json:"raw_message"`
	CreatedAt      time.Time              `json:"created_at"`
}

// QAPair is one knowledge-base entry.
type QAPair struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SaveMessageRequest struct {
	ConversationID string                 `json:"conversation_id"`
	Role           string                 `json:"role"`
	Content        *string                `json:"content"`
	ToolCallID     *string                `json:"tool_call_id"`
	RawMessage     map[string]interface{} `json:"raw_message"`
}

type SearchQARequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type SearchQAResponse struct {
	QAPairs []QAPair `json:"qa_pairs"`
	Count   int      `json:"count"`
}

type SemanticSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type SimilarityMatch struct {
	QAPair QAPair  `json:"qa_pair"`
	Score  float32 `json:"score"`
}

type SemanticSearchResponse struct {
	Results []SimilarityMatch `json:"results"`
	Count   int               `json:"count"`
}

type GetQAByIDsRequest struct {
	IDs []string `json:"ids"`
}

type GetQAByIDsResponse struct {
	QAPairs []QAPair `json:"qa_pairs"`
}

type cursorPagination struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasNext    bool   `json:"has_next"`
}

type createConversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

type listMessagesResponse struct {
	Data       []Message        `json:"data"`
	Pagination cursorPagination `json:"pagination"`
}

type listQAResponse struct {
	Data       []QAPair         `json:"data"`
	Pagination cursorPagination `json:"pagination"`
}

type saveMessageResponse struct {
	Message Message `json:"message"`
}
