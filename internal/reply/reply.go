// Package reply maps a user's chat message to the full assistant reply.
//
// Lookup is an exact string match against an immutable table; anything
// not in the table gets the fallback greeting. There is no trimming or
// normalisation of the input.
package reply

// DefaultFallback is returned for any message without a table entry.
const DefaultFallback = "您好，我是小美AI助手。您的问题是关于健康方面的吗？我可以为您提供专业的健康咨询和建议。"

// Table maps exact user text to a precomposed reply.
type Table map[string]string

// DefaultTable returns a fresh copy of the built-in consultation replies.
func DefaultTable() Table {
	return Table{
		"糖尿病患者如何选择降糖药？": "选择降糖药物需要考虑以下几个方面：\n1. 血糖水平和类型\n2. 年龄和身体状况\n3. 并发症情况\n4. 用药禁忌\n建议在医生指导下选择合适的降糖药物。",
		"儿童疫苗接种后发热如何处理？": "疫苗接种后发热处理建议：\n1. 观察体温变化\n2. 适当物理降温\n3. 保持室内通风\n4. 多补充水分\n如果发热超过38.5度或持续时间较长，建议及时就医。",
		"老年人夜间频繁起夜怎么办？":  "针对老年人夜间频繁起夜，建议：\n1. 控制晚间饮水量\n2. 保持规律作息\n3. 适当运动锻炼\n4. 检查是否存在前列腺问题\n必要时请咨询专业医生。",
	}
}

// Resolver answers chat messages from a fixed table. It is safe for
// concurrent use because nothing mutates it after construction.
type Resolver struct {
	table    Table
	fallback string
}

// NewResolver builds a resolver from the default table overlaid with
// extra. Entries with an empty reply are ignored so Resolve never returns
// "". An empty fallback selects DefaultFallback.
func NewResolver(extra Table, fallback string) *Resolver {
	table := DefaultTable()
	for question, answer := range extra {
		if answer == "" {
			continue
		}
		table[question] = answer
	}
	if fallback == "" {
		fallback = DefaultFallback
	}
	return &Resolver{table: table, fallback: fallback}
}

// Resolve returns the reply for text, or the fallback when text has no
// entry.
func (r *Resolver) Resolve(text string) string {
	if answer, ok := r.table[text]; ok {
		return answer
	}
	return r.fallback
}

// Len returns the number of table entries.
func (r *Resolver) Len() int {
	return len(r.table)
}
