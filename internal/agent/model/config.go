package model

// ================ Config ================
type ConversationConfig struct {
	TTL string `envconfig:"CONVERSATION_TTL" default:"24h"`
	// MaxSteps bounds graph super-steps per turn so a looping engine cannot spin forever.
	MaxSteps int `envconfig:"CONVERSATION_MAX_STEPS" default:"40"`
	// HistoryWindow is how many stored messages the reasoning step sees; 0 means all.
	HistoryWindow int `envconfig:"CONVERSATION_HISTORY_WINDOW" default:"60"`
}

type ReasoningModelConfig struct {
	Model       string  `envconfig:"REASONING_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"REASONING_MAX_TOKENS" default:"4000"`
	Temperature float32 `envconfig:"REASONING_TEMPERATURE" default:"0.2"`
}

type ExtractionModelConfig struct {
	Model       string  `envconfig:"EXTRACTION_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"EXTRACTION_MAX_TOKENS" default:"512"`
	Temperature float32 `envconfig:"EXTRACTION_TEMPERATURE" default:"0"`
}

type PromptConfig struct {
	AgentName string `envconfig:"PROMPT_AGENT_NAME" default:"Stockbroker"`
	Currency  string `envconfig:"PROMPT_CURRENCY" default:"USD"`
}

type FinancialDataConfig struct {
	BaseURL string `envconfig:"FINANCIAL_DATASETS_BASE_URL" default:"https://api.financialdatasets.ai"`
	APIKey  string `envconfig:"FINANCIAL_DATASETS_API_KEY"`
	Timeout string `envconfig:"FINANCIAL_DATASETS_TIMEOUT" default:"20s"`
}

type WebSearchConfig struct {
	BaseURL    string `envconfig:"TAVILY_BASE_URL" default:"https://api.tavily.com"`
	APIKey     string `envconfig:"TAVILY_API_KEY"`
	MaxResults int    `envconfig:"TAVILY_MAX_RESULTS" default:"5"`
	Timeout    string `envconfig:"TAVILY_TIMEOUT" default:"20s"`
}
