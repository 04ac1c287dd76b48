package mcpserver

// OperatorGuide explains the two jobs and the keyword formats to LLM
// consumers before they change anything.
const OperatorGuide = `# Relister Operator Guide

Relister runs two background jobs against the seller's marketplace account.

## Jobs

- **reupload** (` + "`reupload_job`" + `): republishes SOLD and EXPIRED listings whose title
  contains a reupload keyword and that were created within the last 48 hours.
  Listings on the fixed skip list are never touched.
- **autolift** (` + "`autolift_job`" + `): boosts APPROVED listings whose search position
  is worse than the threshold of the first matching autolift keyword.

## Rules

1. A job can only be enabled with a valid marketplace session. Call ` + "`check_auth`" + ` first;
   logging in happens in the Telegram panel only.
2. A job can only be enabled when its keyword list is non-empty.
3. Keywords are snapshotted when a job is enabled. After editing keywords, disable
   and re-enable the job for the change to take effect.
4. Keyword matching is a case-insensitive substring match on the listing title.
5. Keywords are unique regardless of case.
6. Autolift positions are whole numbers starting at 1. A listing is boosted when its
   rank is greater than the position.
`
