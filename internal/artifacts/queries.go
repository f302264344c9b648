package artifacts

const accountsQuery = `
SELECT
	datetime('2001-01-01', ZACCOUNT.ZDATE || ' seconds') AS "Account Date",
	ZACCOUNT.ZUSERNAME AS "Username",
	ZACCOUNT.ZACCOUNTDESCRIPTION AS "Description"
FROM ZACCOUNT
WHERE ZACCOUNT.ZDATE IS NOT NULL
	AND ZACCOUNT.ZUSERNAME IS NOT NULL
	AND ZACCOUNT.ZACCOUNTDESCRIPTION IS NOT NULL`

const addressBookQuery = `
SELECT
	ABPerson.Last AS "Last",
	ABPerson.First AS "First",
	(SELECT value FROM ABMultiValue WHERE property = 3 AND record_id = ABPerson.ROWID
		AND label = (SELECT ROWID FROM ABMultiValueLabel WHERE value = '_$!<Main>!$_')) AS "Main",
	(SELECT value FROM ABMultiValue WHERE property = 3 AND record_id = ABPerson.ROWID
		AND label = (SELECT ROWID FROM ABMultiValueLabel WHERE value = 'iPhone')) AS "iPhone",
	(SELECT value FROM ABMultiValue WHERE property = 3 AND record_id = ABPerson.ROWID
		AND label = (SELECT ROWID FROM ABMultiValueLabel WHERE value = '_$!<Mobile>!$_')) AS "Mobile",
	(SELECT value FROM ABMultiValue WHERE property = 3 AND record_id = ABPerson.ROWID
		AND label = (SELECT ROWID FROM ABMultiValueLabel WHERE value = '_$!<Home>!$_')) AS "Home",
	(SELECT value FROM ABMultiValue WHERE property = 3 AND record_id = ABPerson.ROWID
		AND label = (SELECT ROWID FROM ABMultiValueLabel WHERE value = '_$!<Work>!$_')) AS "Work",
	(SELECT value FROM ABMultiValue WHERE property = 4 AND record_id = ABPerson.ROWID
		AND label IS NULL) AS "Email"
FROM ABPerson
JOIN ABStore ON ABPerson.StoreID = ABStore.ROWID
JOIN ABAccount ON ABStore.AccountID = ABAccount.ROWID
ORDER BY ABPerson.Last ASC`

const dataUsageQuery = `
SELECT
	datetime('2001-01-01', ZLIVEUSAGE.ZTIMESTAMP || ' seconds') AS "Date",
	ZPROCESS.ZBUNDLENAME AS "Application Bundle",
	CAST(ZLIVEUSAGE.ZWWANIN AS REAL) / 1024.0 AS "WWAN In (KB)",
	CAST(ZLIVEUSAGE.ZWWANOUT AS REAL) / 1024.0 AS "WWAN Out (KB)"
FROM ZLIVEUSAGE
LEFT JOIN ZPROCESS ON ZPROCESS.Z_PK = ZLIVEUSAGE.ZHASPROCESS
WHERE ZLIVEUSAGE.ZWWANIN > 0 OR ZLIVEUSAGE.ZWWANOUT > 0
ORDER BY ZLIVEUSAGE.ZTIMESTAMP ASC`

const callHistoryQuery = `
SELECT
	datetime('2001-01-01', ZDATE || ' seconds') AS "Date",
	time(ZDURATION, 'unixepoch') AS "Duration",
	ZADDRESS AS "Other Party",
	CASE ZORIGINATED WHEN 0 THEN 'Incoming' WHEN 1 THEN 'Outgoing' END AS "Call Direction",
	CASE ZANSWERED WHEN 0 THEN 'No' WHEN 1 THEN 'Yes' END AS "Answered",
	CASE ZCALLTYPE
		WHEN 1 THEN 'Standard Call'
		WHEN 8 THEN 'Facetime Video Call'
		WHEN 16 THEN 'Facetime Audio Call'
		ELSE CAST(ZCALLTYPE AS TEXT)
	END AS "Call Type"
FROM ZCALLRECORD
ORDER BY ZDATE ASC`

const notesQuery = `SELECT ZCONTENT AS "Content" FROM ZNOTEBODY`

const safariQuery = `
SELECT
	datetime('2001-01-01', history_visits.visit_time || ' seconds') AS "Date",
	history_visits.title AS "Page Title",
	history_items.url AS "URL",
	CASE history_visits.load_successful WHEN 0 THEN 'No' WHEN 1 THEN 'Yes' END AS "Page Loaded",
	history_items.visit_count AS "Total Visit Count"
FROM history_visits
LEFT JOIN history_items ON history_items.id = history_visits.history_item
ORDER BY history_visits.visit_time ASC`

const tccQuery = `
SELECT
	access.service AS "Device Permission",
	access.client AS "Application Bundle",
	CASE access.auth_value
		WHEN 0 THEN 'Denied'
		WHEN 1 THEN 'Unknown'
		WHEN 2 THEN 'Granted'
		WHEN 3 THEN 'Limited'
		ELSE 'Unknown (' || access.auth_value || ')'
	END AS "Permission Status"
FROM access
ORDER BY access.service, access.client`

const interactionsQuery = `
SELECT
	datetime(ZINTERACTIONS.ZSTARTDATE + 978307200, 'unixepoch') AS "Event Start",
	datetime(ZINTERACTIONS.ZENDDATE + 978307200, 'unixepoch') AS "Event End",
	ZINTERACTIONS.ZBUNDLEID AS "Application",
	CASE ZINTERACTIONS.ZDIRECTION WHEN 0 THEN 'Incoming' WHEN 1 THEN 'Outgoing' END AS "Direction",
	sender.ZDISPLAYNAME AS "Sender",
	sender.ZIDENTIFIER AS "Sender ID",
	recipient.ZDISPLAYNAME AS "Recipient",
	recipient.ZIDENTIFIER AS "Recipient ID",
	ZINTERACTIONS.ZDOMAINIDENTIFIER AS "Domain"
FROM ZINTERACTIONS
LEFT JOIN ZCONTACTS sender ON ZINTERACTIONS.ZSENDER = sender.Z_PK
LEFT JOIN Z_2INTERACTIONRECIPIENT ON ZINTERACTIONS.Z_PK = Z_2INTERACTIONRECIPIENT.Z_3INTERACTIONRECIPIENT
LEFT JOIN ZCONTACTS recipient ON Z_2INTERACTIONRECIPIENT.Z_2RECIPIENTS = recipient.Z_PK
ORDER BY ZINTERACTIONS.ZSTARTDATE ASC`

const cellularQuery = `
SELECT
	subscriber_id AS "Subscriber ID",
	subscriber_mdn AS "Phone Number",
	datetime(last_update_time + 978307200, 'unixepoch') AS "Last Update"
FROM subscriber_info`

const voicemailQuery = `
SELECT
	datetime(date, 'unixepoch') AS "Date",
	sender AS "Sender",
	callback_num AS "Callback Number",
	duration AS "Duration (s)",
	CASE WHEN trashed_date > 0 THEN 'Yes' ELSE 'No' END AS "Deleted"
FROM voicemail
ORDER BY date ASC`

const chatsQuery = `
SELECT
	chat.ROWID,
	chat.display_name,
	chat.chat_identifier,
	COUNT(DISTINCT chat_handle_join.handle_id),
	GROUP_CONCAT(handle.id, ', ')
FROM chat
LEFT JOIN chat_handle_join ON chat.ROWID = chat_handle_join.chat_id
LEFT JOIN handle ON chat_handle_join.handle_id = handle.ROWID
GROUP BY chat.ROWID`

const messagesQuery = `
SELECT
	CASE WHEN message.date != 0
		THEN datetime((message.date + 978307200000000000) / 1000000000, 'unixepoch') END AS "Message Date",
	chat.ROWID AS "Chat ID",
	COALESCE(handle.id, '') AS "Contact",
	CASE WHEN message.is_from_me = 1 THEN 'Sent' ELSE handle.id END AS "Sender",
	CASE message.is_from_me WHEN 1 THEN 'Yes' ELSE 'No' END AS "From Me",
	handle.service AS "Message Service",
	CASE message.is_delivered WHEN 1 THEN 1 ELSE 0 END AS "Is Delivered",
	CASE message.is_read WHEN 1 THEN 1 ELSE 0 END AS "Is Read",
	CASE WHEN message.is_from_me = 1 THEN message.text END AS "Sent",
	CASE WHEN message.is_from_me != 1 THEN message.text END AS "Received",
	GROUP_CONCAT(attachment.filename, '; ') AS "Attachment Files",
	GROUP_CONCAT(attachment.mime_type, '; ') AS "Attachment Types",
	COUNT(attachment.ROWID) AS "Attachment Count"
FROM message
LEFT JOIN handle ON message.handle_id = handle.ROWID
JOIN chat_message_join ON chat_message_join.message_id = message.ROWID
JOIN chat ON chat_message_join.chat_id = chat.ROWID
LEFT JOIN message_attachment_join ON message.ROWID = message_attachment_join.message_id
LEFT JOIN attachment ON attachment.ROWID = message_attachment_join.attachment_id
GROUP BY message.ROWID
ORDER BY message.date DESC`
