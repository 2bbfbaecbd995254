package sqlinline

const QInsertPurchaseRequest = `--sql 0f1eb05e-6565-4093-b3c5-10689b25fea0
insert into purchase_requests (id, user_id, first_name, last_name, email, phone, payment_method, amount_usd, period_days, created_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::integer, $9::integer, $10::timestamptz);
`
