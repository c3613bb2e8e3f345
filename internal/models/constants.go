package models

const (
	MetaID      = "id"
	MetaSource  = "source"
	MetaPage    = "page"
	MetaChunkID = "chunk_id"

	ThinkTag  = `(?s)<think>.*?</think>`
	NoOutput  = "NO_OUTPUT"
	QueryKey  = "query"
	AnswerKey = "text"
)

var (
	QAPromptTemplate = "Answer the user's question truthfully using only the context below.\n" +
		"Do NOT say things like 'based on the context' or 'according to the document'.\n" +
		"If the context does not contain the answer, say that you don't know.\n\n" +
		"Context:\n{{.context}}\n\n" +
		"Question:\n{{.question}}\n\n" +
		"Answer:"

	MultiQueryPromptTemplate = `You are an AI language model assistant. Your task is to generate {{.count}} different versions of the given user question to retrieve relevant documents from a vector database. By generating multiple perspectives on the user question, your goal is to help the user overcome some of the limitations of distance-based similarity search. Provide these alternative questions separated by newlines and nothing else.
Original question: {{.question}}`

	ExtractPromptTemplate = `Given the following question and context, extract any part of the context *AS IS* that is relevant to answer the question. If none of the context is relevant return ` + NoOutput + `.

Remember, *DO NOT* edit the extracted parts of the context.

> Question: {{.question}}
> Context:
>>>
{{.context}}
>>>
Extracted relevant parts:`
)
