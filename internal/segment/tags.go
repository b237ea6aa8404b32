package segment

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const maxRecommendedTags = 5

// keywordTagMapping maps chemical-engineering keywords found in segment
// text to recommended tags.
var keywordTagMapping = map[string][]string{
	// 实验相关
	"实验": {"实验方法", "操作"},
	"测试": {"实验方法", "检测"},
	"试验": {"实验方法", "操作"},
	"检测": {"检测", "分析"},
	"分析": {"分析", "检测"},
	"测量": {"检测", "测量"},

	// 安全相关
	"安全": {"安全", "注意事项"},
	"注意": {"注意事项", "安全"},
	"警告": {"安全", "警告"},
	"危险": {"安全", "危险"},
	"防护": {"安全", "防护"},
	"事故": {"安全", "事故预防"},

	// 工艺相关
	"工艺": {"工艺", "流程"},
	"流程": {"流程", "工艺"},
	"步骤": {"流程", "操作"},
	"操作": {"操作", "流程"},
	"控制": {"控制", "工艺"},
	"参数": {"参数", "控制"},

	// 设备相关
	"设备":  {"设备", "装置"},
	"装置":  {"装置", "设备"},
	"反应器": {"反应器", "设备"},
	"塔":   {"分离设备", "设备"},
	"换热器": {"换热设备", "设备"},

	// 物料相关
	"原料":  {"原料", "物料"},
	"产品":  {"产品", "物料"},
	"催化剂": {"催化剂", "化学品"},
	"溶剂":  {"溶剂", "化学品"},
	"化学品": {"化学品", "物料"},

	// 理论相关
	"理论":  {"理论", "原理"},
	"原理":  {"原理", "理论"},
	"机理":  {"机理", "原理"},
	"动力学": {"动力学", "理论"},
	"热力学": {"热力学", "理论"},

	// 质量相关
	"质量": {"质量", "控制"},
	"标准": {"标准", "规范"},
	"规范": {"规范", "标准"},
	"检验": {"检验", "质量"},
	"合格": {"质量", "标准"},

	// 环保相关
	"环保": {"环保", "环境"},
	"环境": {"环境", "环保"},
	"污染": {"环保", "污染控制"},
	"废水": {"废水处理", "环保"},
	"废气": {"废气处理", "环保"},
	"废料": {"废料处理", "环保"},
}

var featurePatterns = []struct {
	re  *regexp.Regexp
	tag string
}{
	{regexp.MustCompile(`\d+[%℃°]`), "数据"},
	{regexp.MustCompile(`[A-Z][a-z]*\d*\+|→|=`), "化学反应"},
	{regexp.MustCompile(`[1-9]\.|[①②③]|[a-z]\)|•`), "列表"},
	{regexp.MustCompile(`\d+(分|秒|小时|天)|时间|duration`), "时间"},
	{regexp.MustCompile(`\d+℃|\d+°C|\d+K|\d+Pa|\d+MPa`), "工艺条件"},
	{regexp.MustCompile(`\d+%|\d+mol/L|\d+g/L|浓度|含量`), "浓度"},
	{regexp.MustCompile(`反应器|蒸馏塔|换热器|泵|阀门|管道`), "设备"},
}

// RecommendTags suggests up to 5 tags for a passage based on the keyword
// mapping and content features. Results are sorted for stable output.
func RecommendTags(text string) []string {
	seen := make(map[string]bool)
	lower := strings.ToLower(text)

	for keyword, tags := range keywordTagMapping {
		if strings.Contains(lower, keyword) {
			for _, tag := range tags {
				seen[tag] = true
			}
		}
	}

	for _, fp := range featurePatterns {
		if fp.re.MatchString(text) {
			seen[fp.tag] = true
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	if len(tags) > maxRecommendedTags {
		tags = tags[:maxRecommendedTags]
	}
	return tags
}

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

// ExtractKeywords returns the most frequent words of at least two
// characters, ties broken alphabetically.
func ExtractKeywords(text string, maxKeywords int) []string {
	cleaned := nonWordRe.ReplaceAllString(text, " ")

	freq := make(map[string]int)
	for _, word := range strings.Fields(cleaned) {
		if len([]rune(word)) < 2 || isAllDigits(word) {
			continue
		}
		freq[word]++
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}
	return words
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Similarity computes word-overlap (Jaccard) similarity between two passages.
func Similarity(text1, text2 string) float64 {
	words1 := wordSet(text1)
	words2 := wordSet(text2)
	if len(words1) == 0 || len(words2) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range words1 {
		if words2[w] {
			intersection++
		}
	}
	union := len(words1) + len(words2) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = true
	}
	return set
}
