package scripting

import (
	"fmt"
	"strings"
)

// ParseKeyValuePairs splits whitespace-separated "key=value" tokens into a
// map. Tokens without "=" are ignored; later duplicates win. Used for
// record-per-line dumps such as scontrol output.
func ParseKeyValuePairs(output string) map[string]string {
	out := make(map[string]string)

	for _, token := range strings.Fields(output) {
		idx := strings.Index(token, "=")
		if idx <= 0 {
			continue
		}
		out[token[:idx]] = token[idx+1:]
	}
	return out
}

// ParseTable parses tabular command output whose first line is a header
// naming the columns. Rows are keyed by the value of keyField. separator ""
// means whitespace-separated columns.
func ParseTable(output, keyField, separator, adaptor string) (map[string]map[string]string, error) {
	lines := nonEmptyLines(output)
	if len(lines) == 0 {
		return map[string]map[string]string{}, nil
	}

	header := splitColumns(lines[0], separator)

	keyIndex := -1
	for i, h := range header {
		if h == keyField {
			keyIndex = i
			break
		}
	}
	if keyIndex < 0 {
		return nil, fmt.Errorf("%s: key field %q missing from header %q", adaptor, keyField, lines[0])
	}

	out := make(map[string]map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		cols := splitColumns(line, separator)
		if len(cols) > len(header) {
			return nil, fmt.Errorf("%s: row has more columns than header: %q", adaptor, line)
		}

		record := make(map[string]string, len(cols))
		for i, c := range cols {
			record[header[i]] = c
		}
		key, ok := record[keyField]
		if !ok || key == "" {
			return nil, fmt.Errorf("%s: row is missing key field %q: %q", adaptor, keyField, line)
		}
		out[key] = record
	}
	return out, nil
}

func nonEmptyLines(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitColumns(line, separator string) []string {
	var cols []string
	if separator == "" {
		cols = strings.Fields(line)
	} else {
		cols = strings.Split(line, separator)
		// A trailing separator produces one empty phantom column.
		if len(cols) > 0 && cols[len(cols)-1] == "" {
			cols = cols[:len(cols)-1]
		}
	}
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

// VerifyJobInfo defends against back-ends that return an unrelated row when
// they fail to parse a job identifier: the record must carry all required
// fields and its id field must match the requested job.
func VerifyJobInfo(jobInfo map[string]string, jobID, adaptor, idField string, required ...string) error {
	id, ok := jobInfo[idField]
	if !ok {
		return fmt.Errorf("%s: job record is missing field %q", adaptor, idField)
	}
	if id != jobID {
		return fmt.Errorf("%s: job record is for job %q, not %q", adaptor, id, jobID)
	}
	for _, f := range required {
		if _, ok := jobInfo[f]; !ok {
			return fmt.Errorf("%s: job record for %q is missing field %q", adaptor, jobID, f)
		}
	}
	return nil
}

// ShellQuote protects a single argument against shell meta-characters using
// a round-trippable single-quote scheme: ' becomes '\''. Arguments without
// meta-characters pass through unquoted.
func ShellQuote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n\"'`$\\|&;()<>*?[]{}~#") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
