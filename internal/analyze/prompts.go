package analyze

const hydePromptSystem = `You are a retrieval assistant. Write a short, factual passage (3-5 sentences) that would plausibly appear in a document answering the user's question. Write only the passage, no preamble.`

const rewritePromptSystem = `You clean up search queries. Rewrite the user's query as a single clear, self-contained question. Fix spelling, expand ambiguous pronouns when the referent is obvious, and keep the original intent. Reply with the rewritten query only.`

// reformulatePromptSystem takes the number of paraphrases requested.
const reformulatePromptSystem = `You expand search queries for better recall. Produce %d alternative phrasings of the user's query, each using different vocabulary but the same intent. One per line, no numbering, no commentary.`

const decomposePromptSystem = `You break down complex questions. If the user's query contains multiple distinct sub-questions, list each as a standalone atomic question, one per line, at most 3. If the query is already atomic, reply with an empty line.`
