package analyzer

// stopwords are terms excluded from keyword extraction. English function
// words plus the most common Chinese particles seen in mixed corpora.
var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are",
		"was", "were", "be", "been", "being", "it", "this", "that", "these",
		"those", "from", "up", "down", "over", "under", "again", "further",
		"than", "so", "such", "into", "about", "between", "through",
		"during", "before", "after", "above", "below", "out", "off", "own",
		"same", "too", "very", "can", "will", "just", "should", "now",
		"i", "you", "he", "she", "we", "they", "me", "him", "her", "us",
		"them", "my", "your", "his", "its", "our", "their", "what", "which",
		"who", "whom", "where", "when", "why", "how", "not", "no", "nor",
		"do", "does", "did", "have", "has", "had", "would", "could", "may",
		"might", "must", "shall",
		"的", "了", "和", "是", "在", "我", "有", "他", "这", "中",
		"大", "来", "上", "国", "个", "到", "说", "们", "为", "子",
		"与", "也", "你", "地", "得", "着", "就", "那", "要", "下",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
