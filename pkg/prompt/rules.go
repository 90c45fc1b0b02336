package prompt

// sqlRules is injected verbatim into every generation prompt. The rules
// keep the model inside the read-only, schema-bound contract that the
// safety validator enforces afterwards.
const sqlRules = `=== STRICT SQL RULES (MUST follow ALL of these) ===

1. ONLY generate standard-SQL SELECT queries.
2. NEVER generate DROP, ALTER, TRUNCATE, DELETE, INSERT, UPDATE, CREATE,
   GRANT, REVOKE, EXECUTE, or CALL statements.
3. ONLY reference tables and columns listed in the AVAILABLE SCHEMA section.
   Do NOT invent or hallucinate any table or column names.
4. Use EXPLICIT JOIN syntax (INNER JOIN, LEFT JOIN, etc.).
   NEVER use implicit comma-joins (e.g. FROM a, b WHERE a.id = b.id).
5. Always qualify column names with table aliases when two or more tables
   are involved (e.g. e.emp_id, d.dept_name).
6. Use standard date/time handling:
   - CURRENT_DATE, CURRENT_TIMESTAMP, INTERVAL, EXTRACT, DATE_TRUNC
   - NUMERIC aggregates: SUM, COUNT, AVG, MIN, MAX
7. For text comparisons, prefer case-insensitive matching (LOWER(...) = LOWER(...)).
8. Limit result sets to a maximum of 500 rows using LIMIT unless the user
   explicitly asks for all rows.
9. Use meaningful column aliases (AS) for computed or aggregated columns.
10. When the user asks for "today", use CURRENT_DATE.
    When the user asks for "this month", use DATE_TRUNC(CURRENT_DATE, MONTH).
    When the user asks for "this year", use DATE_TRUNC(CURRENT_DATE, YEAR).
11. Output ONLY the raw SQL query. No markdown fences, no backticks,
    no explanations, no leading/trailing whitespace, no semicolons.
12. If the question is ambiguous, make a reasonable assumption and
    generate the most likely intended query.
13. For hierarchical data (manager_id in employees), use self-joins:
    e.g. JOIN employees m ON e.manager_id = m.emp_id

=== END SQL RULES ===`
