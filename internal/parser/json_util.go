package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// extractJSON 从模型输出中取出 JSON 对象，兼容 ```json 代码块和前后夹杂说明文字的情况
func extractJSON(text string) string {
	if m := fencedJSONPattern.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	// 括号配对，跳过字符串字面量中的花括号
	level := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}

// decodeObject 把模型输出解析为键到原始值的映射
func decodeObject(response string) (map[string]json.RawMessage, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return nil, errNoJSONObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}

// rawString 仅接受 JSON 字符串
func rawString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// rawNumber 接受数字或可解析为数字的字符串
func rawNumber(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	if s, ok := rawString(raw); ok {
		s = strings.TrimSuffix(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")), "+")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// rawStringList 接受字符串数组，丢弃非字符串和空白元素
func rawStringList(raw json.RawMessage) ([]string, bool) {
	if isNull(raw) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := rawString(item); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

// rawObjectList 接受对象数组，非对象元素被丢弃
func rawObjectList(raw json.RawMessage) ([]map[string]json.RawMessage, bool) {
	if isNull(raw) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			continue
		}
		out = append(out, obj)
	}
	return out, true
}

// fieldString 取对象中的字符串字段，数字会被格式化为字符串
func fieldString(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	if s, ok := rawString(raw); ok {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
