package scraper

// DefaultQueries is the search catalog. Each run takes a window of it
// starting at the caller's index, so successive runs cover different slices.
var DefaultQueries = []string{
	// Lexical signature
	`"AIzaSy" gemini`,
	`"AIzaSy" generativelanguage`,
	`"AIzaSy" "generateContent"`,
	`"AIzaSy" "gemini-pro"`,
	`"AIzaSy" "gemini-1.5"`,
	`"AIzaSy" "gemini-2.0"`,
	`"AIzaSy" "gemini-2.5"`,
	`"AIzaSy" palm`,
	`"generativelanguage.googleapis.com" "key=AIza"`,

	// Environment variable names
	`GEMINI_API_KEY=AIza`,
	`GOOGLE_API_KEY=AIza`,
	`GOOGLE_GENERATIVE_AI_API_KEY AIza`,
	`GOOGLE_AI_API_KEY AIza`,
	`PALM_API_KEY AIza`,
	`GENAI_API_KEY AIza`,
	`NEXT_PUBLIC_GEMINI_API_KEY AIza`,
	`VITE_GEMINI_API_KEY AIza`,
	`REACT_APP_GEMINI_API_KEY AIza`,
	`EXPO_PUBLIC_GEMINI_API_KEY AIza`,

	// SDK imports and constructors
	`"google.generativeai" "AIza"`,
	`"genai.configure" "AIza"`,
	`"@google/generative-ai" "AIza"`,
	`"@google/genai" "AIza"`,
	`"GoogleGenerativeAI(" "AIza"`,
	`"ChatGoogleGenerativeAI" "AIza"`,
	`"google.golang.org/genai" "AIza"`,
	`"github.com/google/generative-ai-go" "AIza"`,
	`"langchain_google_genai" "AIza"`,

	// File names and paths
	`filename:.env GEMINI_API_KEY`,
	`filename:.env.local GEMINI_API_KEY`,
	`filename:.env.example AIza`,
	`filename:config.json "AIza"`,
	`filename:settings.py "AIza" gemini`,
	`filename:secrets.toml "AIza"`,
	`filename:docker-compose.yml GEMINI_API_KEY`,
	`path:config "AIza" gemini`,
	`path:src/lib "AIza" gemini`,

	// Extensions
	`extension:env "AIza"`,
	`extension:js "AIza" gemini`,
	`extension:ts "AIza" gemini`,
	`extension:py "AIza" gemini`,
	`extension:ipynb "AIza" genai`,
	`extension:yaml "AIza" gemini`,
	`extension:json "AIza" generativelanguage`,
	`extension:go "AIza" genai`,

	// Language filters
	`language:python "AIzaSy" genai`,
	`language:javascript "AIzaSy" gemini`,
	`language:typescript "AIzaSy" gemini`,
	`language:go "AIzaSy" gemini`,
	`language:java "AIzaSy" generativelanguage`,
	`language:kotlin "AIzaSy" gemini`,
	`language:swift "AIzaSy" gemini`,
	`language:dart "AIzaSy" gemini`,
	`language:php "AIzaSy" gemini`,
	`language:ruby "AIzaSy" gemini`,
	`language:csharp "AIzaSy" gemini`,
	`language:rust "AIzaSy" gemini`,

	// Recency and size filters
	`"AIzaSy" gemini pushed:>2025-01-01`,
	`"AIzaSy" gemini created:>2025-06-01`,
	`"AIzaSy" genai size:<5000`,
	`"AIzaSy" gemini size:<10000`,
	`"AIzaSy" generativelanguage size:<20000`,
	`GEMINI_API_KEY size:<2000`,
}
