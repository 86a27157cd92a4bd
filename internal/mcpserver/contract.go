package mcpserver

// NoteFormat describes the Markdown files the sync writes, so that LLM
// consumers can read them without guessing.
const NoteFormat = `# Materialized Blinko Note Format

Every note synced from Blinko is one Markdown file named after its creation
date and title, ending in ` + "`-blinko-<id>.md`" + ` unless the path template
contains ` + "`{id}`" + `.

## Structure

` + "```" + `markdown
---
id: 42                              # Blinko note id, unique per file
date: 2024-02-29T23:30:00+00:00     # creation time, RFC 3339 with offset
updated: 2024-03-01T08:00:00+00:00  # last remote update
source: blinko                      # marker identifying synced files
type: flash                         # flash | note | todo
typeCode: 0                         # numeric Blinko type
attachments:                        # local files in the attachment folder
  - photo.png
tags:                               # leaf tag paths, omitted when empty
  - projects/work
---

Body in Markdown. Attachments are embedded as ![[photo.png]] and other
files are linked as [[report.pdf]].
` + "```" + `

## Rules

1. Files are overwritten on every remote update. Local edits are lost.
2. Notes deleted remotely are removed together with their attachments by
   reconciliation.
3. A line starting with ` + "`> [!warning]`" + ` marks an attachment that could not be
   downloaded.
`
